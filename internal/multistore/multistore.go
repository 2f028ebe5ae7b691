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

// Package multistore implements component C: dispatching appends to
// per-aggregate log shards, laid out the way spec §4.2 specifies:
//
//	<base>/<aggregate>/events.raftlog
//	<base>/<aggregate>/state.raftsnap
//	<base>/global/dedup.raftids
//
// Grounded on the teacher's storage/shard.go (per-shard directory, created
// lazily on first use) and storage/tables_catalog.go (registry-by-name
// under a single RWMutex).
package multistore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/envelope"
	"github.com/launix-de/raftlog/internal/filestore"
	"github.com/launix-de/raftlog/internal/snapshot"
)

// GlobalDir is the aggregate directory name that owns the shared dedup
// index. It is the same directory envelope.GlobalAggregate routes
// no-aggregate-id events to (spec §4.2: "<base>/global/dedup.raftids"
// coexists with that shard's own events.raftlog/state.raftsnap — different
// filenames, no collision).
const GlobalDir = envelope.GlobalAggregate

// BackendFactory builds the snapshot backend for one aggregate's directory.
type BackendFactory func(aggregateDir string) snapshot.Backend

// Store routes appends by aggregate id across a tree of per-aggregate
// FileStorage shards, with one process-wide dedup index.
type Store struct {
	basePath   string
	logCfg     filestore.Config
	backendFor BackendFactory

	mu     sync.Mutex
	shards map[string]*shard

	dedupIndex dedup.Backend
}

type shard struct {
	log      *filestore.FileStorage
	snapshot *snapshot.Store
}

// Open prepares the base directory and the shared global dedup index.
// Aggregate shard directories are created lazily on first use.
func Open(basePath string, logCfg filestore.Config, dedupCfg dedup.Policy, backendFor BackendFactory) (*Store, error) {
	dedupIdx, err := dedup.Open(filepath.Join(basePath, GlobalDir), dedupCfg)
	if err != nil {
		return nil, fmt.Errorf("multistore: open dedup: %w", err)
	}
	return OpenWithDedup(basePath, logCfg, backendFor, dedupIdx)
}

// OpenWithDedup is Open with the shared dedup set supplied directly, letting
// a caller plug in an alternative Backend (e.g. dedup.SQLIndex) instead of
// the default file-backed dedup.Index.
func OpenWithDedup(basePath string, logCfg filestore.Config, backendFor BackendFactory, dedupBackend dedup.Backend) (*Store, error) {
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("multistore: mkdir %s: %w", basePath, err)
	}
	return &Store{
		basePath:   basePath,
		logCfg:     logCfg,
		backendFor: backendFor,
		shards:     make(map[string]*shard),
		dedupIndex: dedupBackend,
	}, nil
}

// Dedup returns the shared dedup index.
func (s *Store) Dedup() dedup.Backend {
	return s.dedupIndex
}

// aggregateDir routes a nil/empty aggregate id to envelope.GlobalAggregate,
// matching spec §4.2: "An envelope with aggregate_id == None routes to the
// global aggregate (distinct from the global dedup directory)".
func aggregateDir(aggregate string) string {
	if aggregate == "" {
		return envelope.GlobalAggregate
	}
	return aggregate
}

func (s *Store) shardFor(aggregate string) (*shard, error) {
	name := aggregateDir(aggregate)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shards[name]; ok {
		return sh, nil
	}
	dir := filepath.Join(s.basePath, name)
	log, err := filestore.Open(dir, s.logCfg)
	if err != nil {
		return nil, fmt.Errorf("multistore: open shard %s: %w", name, err)
	}
	var backend snapshot.Backend
	if s.backendFor != nil {
		backend = s.backendFor(dir)
	} else {
		backend = snapshot.NewFileBackend(dir, false)
	}
	sh := &shard{log: log, snapshot: snapshot.NewStore(backend)}
	s.shards[name] = sh
	return sh, nil
}

// AppendEvent routes env to its aggregate's shard. The caller is
// responsible for having set env.AggregateID to the routed aggregate
// before calling (invariant 6, spec §8): every envelope in
// <base>/<agg>/events.raftlog must have aggregate_id == agg.
func (s *Store) AppendEvent(aggregate string, env *envelope.Envelope) error {
	sh, err := s.shardFor(aggregate)
	if err != nil {
		return err
	}
	return sh.log.AppendEvent(env)
}

// FlushBatch flushes the named aggregate's log shard.
func (s *Store) FlushBatch(aggregate string) error {
	sh, err := s.shardFor(aggregate)
	if err != nil {
		return err
	}
	return sh.log.FlushBatch()
}

// ReadAllEvents reads every envelope line for one aggregate, oldest first.
func (s *Store) ReadAllEvents(aggregate string) ([][]byte, error) {
	sh, err := s.shardFor(aggregate)
	if err != nil {
		return nil, err
	}
	return sh.log.ReadAllEvents()
}

// TruncateEvents empties one aggregate's log after a successful snapshot.
func (s *Store) TruncateEvents(aggregate string) error {
	sh, err := s.shardFor(aggregate)
	if err != nil {
		return err
	}
	return sh.log.TruncateEvents()
}

// SnapshotFor returns the per-aggregate snapshot store.
func (s *Store) SnapshotFor(aggregate string) (*snapshot.Store, error) {
	sh, err := s.shardFor(aggregate)
	if err != nil {
		return nil, err
	}
	return sh.snapshot, nil
}

// Aggregates enumerates aggregate directories present on disk, in
// lexicographic order (spec §4.2 "Enumeration for replay visits each
// aggregate directory in lexicographic order"). This includes GlobalDir
// whenever it holds logged events, not just the dedup index: an envelope
// with no aggregate_id routes there too (spec §8 scenario S5).
func (s *Store) Aggregates() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("multistore: read base dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// GlobalDir exists from Open on for the dedup index; it counts as
		// an aggregate only once it also holds a log.
		if e.Name() == GlobalDir {
			if _, err := os.Stat(filepath.Join(s.basePath, GlobalDir, "events.raftlog")); err != nil {
				continue
			}
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Sharded is always true: each aggregate owns an independent log/snapshot
// pair under its own directory.
func (s *Store) Sharded() bool { return true }

// Close flushes and closes every opened shard plus the dedup index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.dedupIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
