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

package engine

import (
	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/envelope"
	"github.com/launix-de/raftlog/internal/snapshot"
)

// EventStore is the storage shape the Engine drives, satisfied by both
// internal/singlestore.Store (one shared shard) and internal/multistore.Store
// (one shard per aggregate) — the Engine is written once against either
// (spec components B/C).
type EventStore interface {
	Dedup() dedup.Backend
	AppendEvent(aggregate string, env *envelope.Envelope) error
	FlushBatch(aggregate string) error
	ReadAllEvents(aggregate string) ([][]byte, error)
	TruncateEvents(aggregate string) error
	SnapshotFor(aggregate string) (*snapshot.Store, error)
	Aggregates() ([]string, error)
	Close() error

	// Sharded reports whether aggregates are physically partitioned onto
	// independent log/snapshot files (multistore, true) or share a single
	// log/snapshot pair regardless of routing (singlestore, false). The
	// Engine uses this to decide whether a snapshot needs to capture only
	// one aggregate's collection or the whole state (spec §4.2 vs §4.1).
	Sharded() bool
}
