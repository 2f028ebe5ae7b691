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

// Package leadership implements component I: deterministic single-leader
// selection without a consensus vote (spec §4.8 "leader-authoritative, not
// Raft"). The original implementation picks the lowest node id present at
// boot and never re-elects unless that leader misses heartbeats past a
// timeout — supplemented here with an election-timeout promotion path the
// distilled spec leaves implicit but the Rust original
// (original_source/cluster/mod.rs) implements explicitly.
//
// Grounded on the teacher's storage/cachemap.go atomic-last-used-timestamp
// idiom, generalized from "time a cache entry was last touched" to "time a
// heartbeat was last received from the believed leader".
package leadership

import (
	"sort"
	"sync"
	"time"
)

// Role is this node's current position in the cluster.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// State tracks this node's believed role and leader across the cluster.
// Safe for concurrent use; the hot read path (IsLeader, called once per
// ApplyEvent) is a single mutex-guarded comparison.
type State struct {
	mu sync.RWMutex

	selfID          string
	peers           []string // the other node ids (selfID excluded), unsorted input order
	electionTimeout time.Duration
	clock           func() time.Time

	role            Role
	believedLeader  string
	lastHeartbeatAt time.Time
}

// Config seeds a State at startup.
type Config struct {
	SelfID          string
	Peers           []string // other node ids; selfID is added automatically
	ElectionTimeout time.Duration
	Clock           func() time.Time
}

// New returns a State with the leader deterministically chosen as the
// lexicographically lowest id among selfID and peers (spec §4.8 "the lowest
// node id present at boot becomes leader").
func New(cfg Config) *State {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ElectionTimeout <= 0 {
		cfg.ElectionTimeout = 5 * time.Second
	}
	all := append([]string{cfg.SelfID}, cfg.Peers...)
	sort.Strings(all)
	leader := all[0]

	s := &State{
		selfID:          cfg.SelfID,
		peers:           cfg.Peers,
		electionTimeout: cfg.ElectionTimeout,
		clock:           cfg.Clock,
		believedLeader:  leader,
		lastHeartbeatAt: cfg.Clock(),
	}
	if leader == cfg.SelfID {
		s.role = Leader
	} else {
		s.role = Follower
	}
	return s
}

// IsLeader reports whether this node currently believes itself the leader.
func (s *State) IsLeader() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role == Leader
}

// CurrentLeaderID returns the node id this node currently believes is
// leader, used to build the 307 redirect Location on a non-leader write
// (spec §4.5, §7).
func (s *State) CurrentLeaderID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.believedLeader
}

// Role returns this node's current role.
func (s *State) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// RecordHeartbeat is called whenever a replication heartbeat or bulk
// replicate arrives from the believed leader, resetting the election clock.
func (s *State) RecordHeartbeat(fromNodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fromNodeID != s.believedLeader {
		// A different node claims leadership; since our own promotion logic
		// is deterministic-lowest-id, defer to it only if it actually sorts
		// lower than our current belief — otherwise ignore a stale/rogue
		// heartbeat (supplemented behavior, no direct spec text).
		if fromNodeID >= s.believedLeader {
			return
		}
		s.believedLeader = fromNodeID
		s.role = Follower
	}
	s.lastHeartbeatAt = s.clock()
}

// MaybePromote checks whether the election timeout has elapsed since the
// last heartbeat from the believed leader and, if so and this node's id
// sorts lowest among itself and all configured peers (the silent leader
// included), promotes itself to Leader. Intended to be polled periodically
// (e.g. from a ticker in the replicator's background loop). Returns true if
// a promotion happened.
func (s *State) MaybePromote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role == Leader {
		return false
	}
	if s.clock().Sub(s.lastHeartbeatAt) < s.electionTimeout {
		return false
	}
	all := append([]string{s.selfID}, s.peers...)
	sort.Strings(all)
	if all[0] != s.selfID {
		// Someone else still sorts lower; keep waiting rather than racing
		// to self-promote out of turn.
		return false
	}
	s.role = Leader
	s.believedLeader = s.selfID
	s.lastHeartbeatAt = s.clock()
	return true
}

// SelfID returns this node's own id.
func (s *State) SelfID() string { return s.selfID }

// SetElectionTimeout updates the duration MaybePromote waits for a heartbeat
// from the believed leader before considering it silent. Safe to call from a
// config hot-reload while heartbeats and promotion checks are in flight.
func (s *State) SetElectionTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.electionTimeout = d
}
