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

// Package singlestore adapts a single FileStorage + DedupIndex + SnapshotStore
// triple (spec §4.1's literal "FileStorage owns exactly one
// events.raftlog... one dedup.raftids, one state.raftsnap") to the same
// engine.EventStore shape multistore.Store exposes for the sharded case, so
// the Engine can be written once against either.
package singlestore

import (
	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/envelope"
	"github.com/launix-de/raftlog/internal/filestore"
	"github.com/launix-de/raftlog/internal/snapshot"
)

// Store is a non-sharded event store: every aggregate name is ignored and
// routed to the same single log/dedup/snapshot file set.
type Store struct {
	log        *filestore.FileStorage
	snap       *snapshot.Store
	dedupIndex dedup.Backend
}

// Open opens dir/events.raftlog, dir/dedup.raftids, and dir/state.raftsnap
// (or the backend given).
func Open(dir string, logCfg filestore.Config, dedupCfg dedup.Policy, backend snapshot.Backend) (*Store, error) {
	dedupIdx, err := dedup.Open(dir, dedupCfg)
	if err != nil {
		return nil, err
	}
	return OpenWithDedup(dir, logCfg, backend, dedupIdx)
}

// OpenWithDedup is Open with the dedup set supplied directly, letting a
// caller plug in an alternative Backend (e.g. dedup.SQLIndex) instead of the
// default file-backed dedup.Index.
func OpenWithDedup(dir string, logCfg filestore.Config, backend snapshot.Backend, dedupBackend dedup.Backend) (*Store, error) {
	log, err := filestore.Open(dir, logCfg)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		backend = snapshot.NewFileBackend(dir, false)
	}
	return &Store{log: log, snap: snapshot.NewStore(backend), dedupIndex: dedupBackend}, nil
}

func (s *Store) Dedup() dedup.Backend { return s.dedupIndex }

func (s *Store) AppendEvent(_ string, env *envelope.Envelope) error {
	return s.log.AppendEvent(env)
}

func (s *Store) FlushBatch(_ string) error {
	return s.log.FlushBatch()
}

func (s *Store) ReadAllEvents(_ string) ([][]byte, error) {
	return s.log.ReadAllEvents()
}

func (s *Store) TruncateEvents(_ string) error {
	return s.log.TruncateEvents()
}

func (s *Store) SnapshotFor(_ string) (*snapshot.Store, error) {
	return s.snap, nil
}

// Aggregates always reports the single implicit global aggregate: in
// single-file mode every event lives in one shared log regardless of its
// logical aggregate_id.
func (s *Store) Aggregates() ([]string, error) {
	return []string{envelope.GlobalAggregate}, nil
}

// Sharded is always false: every aggregate shares the one log/snapshot pair.
func (s *Store) Sharded() bool { return false }

func (s *Store) Close() error {
	if err := s.log.Close(); err != nil {
		return err
	}
	return s.dedupIndex.Close()
}
