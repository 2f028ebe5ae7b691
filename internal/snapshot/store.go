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

// Package snapshot implements component E: a periodic full-state snapshot
// that compacts the log. The default backend writes via rename-over-temp
// for atomic replacement (spec §4.4); alternate backends generalize the
// teacher's storage/persistence-s3.go and storage/persistence-ceph.go to
// ship snapshots off-box.
package snapshot

// Backend is the pluggable persistence target for a snapshot's bytes.
type Backend interface {
	// Save writes data as the new snapshot, replacing any prior one.
	Save(data []byte) error
	// Load returns the current snapshot bytes, or ok=false if none exists
	// or it could not be read.
	Load() ([]byte, bool, error)
}

// Store is the engine-facing snapshot API (spec §4.4): a single JSON
// object representing the complete materialised state, written
// atomically, with no delta information.
type Store struct {
	backend Backend
}

// NewStore wraps a backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Save persists a full-state snapshot.
func (s *Store) Save(data []byte) error {
	return s.backend.Save(data)
}

// Load returns the most recent snapshot, if any.
func (s *Store) Load() ([]byte, bool, error) {
	return s.backend.Load()
}
