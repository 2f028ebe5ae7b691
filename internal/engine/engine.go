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

// Package engine implements component F: the owner of in-memory state, the
// apply loop, and the boot/shutdown state machine (spec §4.5). Grounded on
// the teacher's storage/table.go and storage/transaction.go, which
// serialise mutating operations on a table behind a lock while letting
// reads proceed via a held snapshot.
package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/envelope"
)

// Phase is one of the Engine's boot/shutdown lifecycle states (spec §4.5).
type Phase int

const (
	Booting Phase = iota
	ReplayingPhase
	Ready
	Draining
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Booting:
		return "Booting"
	case ReplayingPhase:
		return "Replaying"
	case Ready:
		return "Ready"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Config wires the Engine to its collaborators without engine importing
// the replication/leadership packages directly (they import engine, to
// call ApplyEvent for follower applies) — a narrow function-hook interface
// instead of a concrete dependency.
type Config struct {
	SnapshotEvery uint64 // 0 disables periodic snapshotting (spec §4.4)

	// IsLeader and CurrentLeaderID back NotLeaderError generation. When
	// nil, every node behaves as an unconditional leader (single-node
	// mode).
	IsLeader        func() bool
	CurrentLeaderID func() string

	// OnReplicate is invoked after a successful local commit, with the
	// envelope to fan out to followers (spec §4.8). May be nil.
	OnReplicate func(aggregate string, env *envelope.Envelope)

	// OnSnapshot is invoked after version crosses a SnapshotEvery
	// boundary; the Engine itself performs the save+truncate sequence,
	// this hook only observes it (used by tests/metrics).
	OnSnapshot func(aggregate string, version uint64)

	// OnApplied is invoked for every successfully persisted envelope, on
	// both the leader-authored and replicated-follower paths. The admin
	// UI's live-tail websocket subscribes through this hook. May be nil.
	OnApplied func(aggregate string, env *envelope.Envelope)

	Clock func() time.Time
}

// Engine owns the State container, the EventStore, and the apply loop.
type Engine struct {
	mu    sync.Mutex // guards phase and corruptionDetected only
	phase Phase

	container Container
	store     EventStore
	writer    *asyncwriter.Writer
	cfg       Config

	corruptionDetected bool
	appliesSinceSnap   map[string]uint64
}

// New constructs an Engine in the Booting phase. Callers typically move it
// through ReplayingPhase via the replay package, then call MarkReady.
func New(container Container, store EventStore, writer *asyncwriter.Writer, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		phase:            Booting,
		container:        container,
		store:            store,
		writer:           writer,
		cfg:              cfg,
		appliesSinceSnap: make(map[string]uint64),
	}
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// MarkReplaying transitions Booting -> Replaying.
func (e *Engine) MarkReplaying() { e.setPhase(ReplayingPhase) }

// MarkReady transitions Replaying -> Ready, called by ReplayEngine on
// completion (spec §4.5).
func (e *Engine) MarkReady() { e.setPhase(Ready) }

// MarkCorruptionDetected flags that replay found and skipped corrupt
// lines; boot continues (spec §4.10 step 5, §7).
func (e *Engine) MarkCorruptionDetected() {
	e.mu.Lock()
	e.corruptionDetected = true
	e.mu.Unlock()
}

// CorruptionDetected reports whether boot-time replay found corrupt lines.
func (e *Engine) CorruptionDetected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.corruptionDetected
}

// SetOnApplied wires the OnApplied hook after construction, since the admin
// UI's Hub needs a constructed *Engine to read CorruptionDetected while the
// Engine needs the Hub's Publish method as its OnApplied hook. Callers must
// set this before the Engine leaves Booting — no synchronization is taken
// since no apply can be racing it that early.
func (e *Engine) SetOnApplied(f func(aggregate string, env *envelope.Envelope)) {
	e.cfg.OnApplied = f
}

// Store exposes the underlying EventStore, used by ReplayEngine and the
// admin UI for introspection.
func (e *Engine) Store() EventStore { return e.store }

// Container exposes the underlying state container.
func (e *Engine) Container() Container { return e.container }

// ApplyEvent performs the full apply contract (spec §4.5):
//  1. compute idempotence key
//  2. consult dedup; if present, return DuplicateEvent
//  3. clone state for apply, call event.Apply(&clone), publish clone
//  4. construct envelope
//  5. submit to AsyncWriter
//  6. insert key into dedup and append to dedup.raftids
//  7. if leader and replication enabled, enqueue envelope for broadcast
//  8. if post-apply version is divisible by SnapshotEvery, schedule a snapshot
func (e *Engine) ApplyEvent(ev Event) error {
	if e.Phase() != Ready {
		return ErrShutdown
	}
	if e.cfg.IsLeader != nil && !e.cfg.IsLeader() {
		leader := ""
		if e.cfg.CurrentLeaderID != nil {
			leader = e.cfg.CurrentLeaderID()
		}
		return &NotLeaderError{CurrentLeaderID: leader}
	}
	return e.applyLocked(ev, true)
}

// snapshotAndTruncate persists a full-state snapshot and empties the log it
// compacts (spec §4.4). Called with the container's write lock already held.
//
// For a sharded store (multistore), the physical shard named by aggregate
// holds only that aggregate's own events, so the snapshot need only capture
// that aggregate's collection. For a non-sharded store (singlestore), the
// one physical log interleaves every logical aggregate's events, so the
// snapshot must capture the entire state before the shared log is emptied.
func (e *Engine) snapshotAndTruncate(aggregate string, state *State) error {
	var payload []byte
	var err error
	if e.store.Sharded() {
		payload, err = json.Marshal(AggregateSnapshot{
			Version:    state.Version,
			Collection: state.Aggregate(aggregate),
		})
	} else {
		payload, err = json.Marshal(state)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	snap, err := e.store.SnapshotFor(aggregate)
	if err != nil {
		return err
	}
	if err := snap.Save(payload); err != nil {
		return err
	}
	return e.store.TruncateEvents(aggregate)
}

// SnapshotNow forces an out-of-band snapshot+truncate of aggregate, the same
// sequence applyLocked runs when SnapshotEvery is crossed. Used by the
// "raftlogd snapshot" CLI subcommand for operator-triggered compaction
// outside the normal apply cadence.
func (e *Engine) SnapshotNow(aggregate string) error {
	e.container.Lock()
	defer e.container.Unlock()
	return e.snapshotAndTruncate(aggregate, e.container.CurrentLocked())
}

func eventID(ev Event, key string) string {
	if key != "" {
		return key
	}
	return ev.EventType()
}

// ApplyReplicated applies an event arriving from the leader (or, on the
// leader, a locally authored event during replay) without the
// IsLeader/NotLeader check — the follower path's authority guard lives one
// layer up in the Replicator (spec §4.8 step 1).
func (e *Engine) ApplyReplicated(ev Event) error {
	if e.Phase() != Ready {
		return ErrShutdown
	}
	return e.applyLocked(ev, false)
}

// applyLocked is the shared body of ApplyEvent and ApplyReplicated: the
// leader-authority check happens in the caller, everything else — dedup,
// apply, envelope construction, submit, replicate, snapshot — is identical
// on both paths (spec §4.5, §4.8).
func (e *Engine) applyLocked(ev Event, replicate bool) error {
	aggregate := ev.AggregateID()
	if aggregate == "" {
		aggregate = GlobalAggregateName
	}
	key, hasKey := ev.IdempotenceKey()

	e.container.Lock()
	defer e.container.Unlock()

	if hasKey && e.store.Dedup().Seen(key) {
		return &DuplicateEventError{Key: key}
	}

	cur := e.container.CurrentLocked()
	clone := cur.Clone()
	ev.Apply(clone)
	clone.Version++
	e.container.Publish(clone)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	env := &envelope.Envelope{
		EventType:   ev.EventType(),
		EventID:     eventID(ev, key),
		Timestamp:   uint64(e.cfg.Clock().Unix()),
		Payload:     string(payload),
		AggregateID: aggregate,
	}

	if err := e.writer.Submit(aggregate, env); err != nil {
		return fmt.Errorf("%w: %v", ErrStoragePoisoned, err)
	}

	if hasKey {
		if _, err := e.store.Dedup().InsertIfAbsent(key); err != nil {
			return fmt.Errorf("%w: %v", ErrStoragePoisoned, err)
		}
	}

	if replicate && e.cfg.OnReplicate != nil {
		e.cfg.OnReplicate(aggregate, env)
	}
	if e.cfg.OnApplied != nil {
		e.cfg.OnApplied(aggregate, env)
	}

	if e.cfg.SnapshotEvery > 0 && clone.Version%e.cfg.SnapshotEvery == 0 {
		if err := e.snapshotAndTruncate(aggregate, clone); err != nil {
			return fmt.Errorf("%w: %v", ErrStoragePoisoned, err)
		}
		if e.cfg.OnSnapshot != nil {
			e.cfg.OnSnapshot(aggregate, clone.Version)
		}
	}

	return nil
}

// WithState gives f read-only access to the whole published state. f must
// not mutate the collections it is handed.
func (e *Engine) WithState(f func(*State)) {
	f(e.container.Current())
}

// WithStateMut gives f exclusive mutation access to a cloned state, then
// publishes the result. Used for housekeeping that falls outside the
// normal event-apply path (e.g. administrative repair).
func (e *Engine) WithStateMut(f func(*State)) {
	e.container.Lock()
	defer e.container.Unlock()
	clone := e.container.CurrentLocked().Clone()
	f(clone)
	e.container.Publish(clone)
}

// ReadState scopes WithState to one aggregate's collection.
func (e *Engine) ReadState(aggregate string, f func(*Collection)) {
	e.WithState(func(s *State) {
		c, ok := s.Aggregates[aggregate]
		if !ok {
			c = NewCollection()
		}
		f(c)
	})
}

// WriteState scopes WithStateMut to one aggregate's collection.
func (e *Engine) WriteState(aggregate string, f func(*Collection)) {
	e.WithStateMut(func(s *State) {
		f(s.Aggregate(aggregate))
	})
}

// BulkMutate gives f direct, unpublished access to the live state value,
// skipping the clone-and-publish cycle WithStateMut uses. Only safe before
// the Engine reaches Ready: boot-time replay is the only caller, and no
// reader can be racing a state no request handler has been exposed to yet.
func (e *Engine) BulkMutate(f func(*State)) {
	e.container.Lock()
	defer e.container.Unlock()
	f(e.container.CurrentLocked())
}

// Flush drains the AsyncWriter queue and fsyncs every touched shard.
func (e *Engine) Flush() error {
	if err := e.writer.Flush(); err != nil {
		return err
	}
	aggs, err := e.store.Aggregates()
	if err != nil {
		return err
	}
	for _, a := range aggs {
		if err := e.store.FlushBatch(a); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown drains outstanding writes, flushes and closes files (spec §4.5
// Ready -> Draining -> Stopped). It takes no snapshot.
func (e *Engine) Shutdown() error {
	e.setPhase(Draining)
	err := e.Flush()
	e.writer.Close()
	if cerr := e.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	e.setPhase(Stopped)
	return err
}
