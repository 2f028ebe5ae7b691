/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package replication implements component H: leader-authoritative,
// fire-and-forget fan-out of applied events to followers, with batch-id
// deduplication on the receiving side (spec §4.8). There is no commit quorum
// and no log-matching handshake — a follower that falls behind simply
// catches up from whatever batches eventually arrive, or from a full replay
// against the leader if it was offline long enough (spec §9, "rolling
// upgrade / catch-up").
//
// Grounded on the teacher's storage/cachemap.go in-memory-set-plus-backing-
// store shape (reused directly via internal/dedup.Index for the processed-
// batch set) and on the retrieval pack's raftlog-replication example for the
// bulk-envelope wire shape.
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/envelope"
	"github.com/launix-de/raftlog/internal/idgen"
	"github.com/launix-de/raftlog/internal/leadership"
)

// ErrRejectedByLeader is a sentinel every *NonAuthoritativeLeaderError
// matches via errors.Is, for callers that only care whether a batch was
// rejected and not why (spec §4.8, mapped to HTTP 409 by httpapi).
var ErrRejectedByLeader = errors.New("replication: non-authoritative leader")

// NonAuthoritativeLeaderError is returned by HandleBulk when req.LeaderID
// does not match the node's currently believed leader id (spec §3 invariant
// 5: "a follower accepts a replication envelope only if its carried
// leader_node_id equals the follower's currently believed leader id"; §4.8
// step 1: "reject with 409 if leader_node_id != believed leader"). A node
// that currently believes itself leader is covered by the same check, since
// its believed leader id is its own.
type NonAuthoritativeLeaderError struct {
	Expected string // the node id this follower currently believes is leader
	Got      string // the leader_node_id carried by the rejected batch
}

func (e *NonAuthoritativeLeaderError) Error() string {
	return fmt.Sprintf("replication: non-authoritative leader: expected %q, got %q", e.Expected, e.Got)
}

func (e *NonAuthoritativeLeaderError) Is(target error) bool {
	return target == ErrRejectedByLeader
}

// BulkRequest is the wire body POSTed to /internal/replicate_bulk (and, for
// a single event, to /internal/replicate with len(Events) == 1).
type BulkRequest struct {
	BatchID  string               `json:"batch_id"`
	LeaderID string               `json:"leader_id"`
	Events   []*envelope.Envelope `json:"events"`
}

// HeartbeatRequest is the wire body POSTed to /internal/heartbeat, sent
// independent of replication traffic so a follower's election clock keeps
// advancing through idle periods (supplemented from
// original_source/cluster/mod.rs, see SPEC_FULL.md).
type HeartbeatRequest struct {
	LeaderID string `json:"leader_id"`
}

// Outbound is the outbound side: it batches envelopes enqueued via Enqueue
// and periodically POSTs them to every peer, retrying with exponential
// backoff and never blocking the caller (the apply path) on peer
// availability. When Leadership is set, it also sends a periodic heartbeat
// to every peer while (and only while) this node believes itself leader.
type Outbound struct {
	selfID        string
	peers         []string
	client        *http.Client
	maxBatch      int
	flushInterval time.Duration
	maxRetries    int
	backoffBase   time.Duration
	logger        *slog.Logger

	leadership        *leadership.State
	heartbeatInterval time.Duration
	promotionInterval time.Duration

	mu      sync.Mutex
	pending []*envelope.Envelope

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// OutboundConfig configures an Outbound replicator.
type OutboundConfig struct {
	SelfID        string
	Peers         []string // base URLs, e.g. "http://10.0.0.2:8080"
	Client        *http.Client
	MaxBatch      int
	FlushInterval time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	Logger        *slog.Logger

	// Leadership, when set, gates heartbeat sending to "only while leader"
	// and is otherwise untouched by Outbound.
	Leadership        *leadership.State
	HeartbeatInterval time.Duration

	// PromotionPollInterval governs how often a follower polls
	// Leadership.MaybePromote while the believed leader goes quiet. Defaults
	// to a fraction of HeartbeatInterval so a silent leader is noticed
	// promptly without busy-polling.
	PromotionPollInterval time.Duration
}

// NewOutbound starts the background flush loop.
func NewOutbound(cfg OutboundConfig) *Outbound {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 2 * time.Second
	}
	if cfg.PromotionPollInterval <= 0 {
		cfg.PromotionPollInterval = cfg.HeartbeatInterval / 2
	}
	o := &Outbound{
		selfID:            cfg.SelfID,
		peers:             cfg.Peers,
		client:            cfg.Client,
		maxBatch:          cfg.MaxBatch,
		flushInterval:     cfg.FlushInterval,
		maxRetries:        cfg.MaxRetries,
		backoffBase:       cfg.BackoffBase,
		logger:            cfg.Logger,
		leadership:        cfg.Leadership,
		heartbeatInterval: cfg.HeartbeatInterval,
		promotionInterval: cfg.PromotionPollInterval,
		stopCh:            make(chan struct{}),
	}
	o.wg.Add(1)
	go o.run()
	if o.leadership != nil {
		o.wg.Add(1)
		go o.heartbeatLoop()
		o.wg.Add(1)
		go o.promotionLoop()
	}
	return o
}

// Enqueue is wired as engine.Config.OnReplicate: it is called synchronously
// from the apply path, so it must never block on peer I/O — it only
// appends to an in-memory slice under a short-lived lock (spec §4.8
// "fire-and-forget").
func (o *Outbound) Enqueue(_ string, env *envelope.Envelope) {
	o.mu.Lock()
	o.pending = append(o.pending, env)
	full := len(o.pending) >= o.maxBatch
	o.mu.Unlock()
	if full {
		go o.flush()
	}
}

func (o *Outbound) run() {
	defer o.wg.Done()
	t := time.NewTicker(o.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			o.flush()
		case <-o.stopCh:
			o.flush()
			return
		}
	}
}

func (o *Outbound) flush() {
	o.mu.Lock()
	if len(o.pending) == 0 {
		o.mu.Unlock()
		return
	}
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	req := BulkRequest{
		BatchID:  idgen.NewUUID().String(),
		LeaderID: o.selfID,
		Events:   batch,
	}
	body, err := json.Marshal(req)
	if err != nil {
		o.logger.Error("replication: marshal batch failed", "error", err)
		return
	}

	for _, peer := range o.peers {
		go o.sendWithRetry(peer, body)
	}
}

// heartbeatLoop sends an empty heartbeat to every peer on every tick while
// this node believes itself leader, independent of whether any events are
// pending (spec SUPPLEMENTED FEATURES item 1: heartbeat-driven leader
// reassertion, grounded on original_source/cluster/mod.rs).
func (o *Outbound) heartbeatLoop() {
	defer o.wg.Done()
	t := time.NewTicker(o.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if o.leadership.IsLeader() {
				o.sendHeartbeats()
			}
		case <-o.stopCh:
			return
		}
	}
}

// promotionLoop polls Leadership.MaybePromote so a follower whose believed
// leader has gone silent past the election timeout promotes itself without
// waiting on any external trigger (spec SUPPLEMENTED FEATURES item 2:
// follower promotion on leader silence).
func (o *Outbound) promotionLoop() {
	defer o.wg.Done()
	t := time.NewTicker(o.promotionInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if o.leadership.MaybePromote() {
				o.logger.Info("replication: promoted self to leader after election timeout", "self_id", o.selfID)
			}
		case <-o.stopCh:
			return
		}
	}
}

func (o *Outbound) sendHeartbeats() {
	body, err := json.Marshal(HeartbeatRequest{LeaderID: o.selfID})
	if err != nil {
		return
	}
	for _, peer := range o.peers {
		go func(peer string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.post(ctx, peer+"/internal/heartbeat", body); err != nil {
				o.logger.Warn("replication: heartbeat post failed", "peer", peer, "error", err)
			}
		}(peer)
	}
}

func (o *Outbound) sendWithRetry(peer string, body []byte) {
	url := peer + "/internal/replicate_bulk"
	backoff := o.backoffBase
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := o.post(ctx, url, body)
		cancel()
		if err == nil {
			return
		}
		o.logger.Warn("replication: peer post failed", "peer", peer, "attempt", attempt, "error", err)
	}
}

func (o *Outbound) post(ctx context.Context, url string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusConflict {
		// Peer believes it is leader; fire-and-forget means we do not
		// retry a 409, only transient failures (spec §4.8).
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("replication: peer %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// Close stops the flush loop after a final flush.
func (o *Outbound) Close() {
	close(o.stopCh)
	o.wg.Wait()
}

// Inbound is the follower-side receiver: it guards against accepting
// replicated batches while this node believes itself leader, deduplicates
// by batch id across restarts, and applies each event through the shared
// Engine apply path.
type Inbound struct {
	leadership *leadership.State
	eng        *engine.Engine
	registry   engine.Registry
	processed  *dedup.Index
	logger     *slog.Logger
}

// InboundConfig configures an Inbound receiver.
type InboundConfig struct {
	Leadership *leadership.State
	Engine     *engine.Engine
	Registry   engine.Registry
	// ProcessedDir is the directory the processed-batch set's backing file
	// lives in, typically the node's global state directory.
	ProcessedDir string
	Logger       *slog.Logger
}

// NewInbound opens the processed-batch dedup set and returns a receiver.
func NewInbound(cfg InboundConfig) (*Inbound, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	processed, err := dedup.Open(cfg.ProcessedDir, dedup.DefaultPolicy())
	if err != nil {
		return nil, fmt.Errorf("replication: open processed-batch set: %w", err)
	}
	return &Inbound{
		leadership: cfg.Leadership,
		eng:        cfg.Engine,
		registry:   cfg.Registry,
		processed:  processed,
		logger:     cfg.Logger,
	}, nil
}

// HandleBulk applies every event in req, skipping whole-batch processing if
// req.BatchID has already been seen (replication retries are expected and
// harmless, spec §4.8).
func (in *Inbound) HandleBulk(req BulkRequest) error {
	if in.leadership != nil {
		if expected := in.leadership.CurrentLeaderID(); req.LeaderID != expected {
			return &NonAuthoritativeLeaderError{Expected: expected, Got: req.LeaderID}
		}
	}
	added, err := in.processed.InsertIfAbsent(req.BatchID)
	if err != nil {
		return fmt.Errorf("replication: processed-set: %w", err)
	}
	if !added {
		return nil
	}
	if in.leadership != nil {
		in.leadership.RecordHeartbeat(req.LeaderID)
	}
	for _, env := range req.Events {
		ev, known, err := in.registry.Decode(env.EventType, json.RawMessage(env.Payload))
		if err != nil {
			in.logger.Warn("replication: undecodable event in batch, skipping", "event_type", env.EventType, "error", err)
			continue
		}
		if !known {
			in.logger.Warn("replication: unknown event type in batch, skipping", "event_type", env.EventType)
			continue
		}
		if err := in.eng.ApplyReplicated(ev); err != nil {
			if _, dup := engine.IsDuplicate(err); dup {
				continue
			}
			return fmt.Errorf("replication: apply: %w", err)
		}
	}
	return nil
}

// HandleHeartbeat records a heartbeat from the claimed leader, independent
// of any replication traffic (spec SUPPLEMENTED FEATURES item 1).
func (in *Inbound) HandleHeartbeat(req HeartbeatRequest) {
	if in.leadership != nil {
		in.leadership.RecordHeartbeat(req.LeaderID)
	}
}

// Close closes the processed-batch set.
func (in *Inbound) Close() error {
	return in.processed.Close()
}
