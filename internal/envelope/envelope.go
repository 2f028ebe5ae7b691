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

// Package envelope defines the on-disk record format shared by every log
// file and the hash-chain machinery that links consecutive records.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GlobalAggregate is the routing key used for events that do not name an
// aggregate of their own.
const GlobalAggregate = "global"

// ZeroHash is the well-known sentinel previous_hash for the first envelope
// of a hash chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Envelope is the canonical on-disk record. Every field except PreviousHash
// and EventHash is required; AggregateID defaults to GlobalAggregate when
// empty.
type Envelope struct {
	EventType    string `json:"event_type"`
	EventID      string `json:"event_id"`
	Timestamp    uint64 `json:"timestamp"`
	Payload      string `json:"payload"`
	AggregateID  string `json:"aggregate_id,omitempty"`
	EventHash    string `json:"event_hash,omitempty"`
	PreviousHash string `json:"previous_hash,omitempty"`
}

// Aggregate returns the routing aggregate for this envelope, defaulting to
// GlobalAggregate when unset.
func (e *Envelope) Aggregate() string {
	if e.AggregateID == "" {
		return GlobalAggregate
	}
	return e.AggregateID
}

// MarshalLine renders the envelope as the single JSON line that is appended
// to an events.raftlog file, terminated by "\n".
func (e *Envelope) MarshalLine() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal: %w", err)
	}
	b = append(b, '\n')
	return b, nil
}

// Unmarshal parses a single log line into an Envelope. Empty lines are the
// caller's responsibility to skip; this always expects a JSON object.
func Unmarshal(line []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("envelope: corrupt line: %w", err)
	}
	return &e, nil
}

// canonicalBody returns the deterministic byte representation of the
// envelope used for hashing: every field except EventHash, in a fixed
// field order, independent of struct tag ordering changes.
func (e *Envelope) canonicalBody() []byte {
	type canonical struct {
		EventType    string `json:"event_type"`
		EventID      string `json:"event_id"`
		Timestamp    uint64 `json:"timestamp"`
		Payload      string `json:"payload"`
		AggregateID  string `json:"aggregate_id"`
		PreviousHash string `json:"previous_hash"`
	}
	b, _ := json.Marshal(canonical{
		EventType:    e.EventType,
		EventID:      e.EventID,
		Timestamp:    e.Timestamp,
		Payload:      e.Payload,
		AggregateID:  e.AggregateID,
		PreviousHash: e.PreviousHash,
	})
	return b
}

// ComputeHash returns the hex-encoded sha256 digest of the envelope's
// canonical body. Call after PreviousHash has been set.
func (e *Envelope) ComputeHash() string {
	sum := sha256.Sum256(e.canonicalBody())
	return hex.EncodeToString(sum[:])
}

// Chain is a running hash-chain cursor. It is not safe for concurrent use;
// callers serialize access the same way they serialize appends.
type Chain struct {
	running string
}

// NewChain returns a chain cursor seeded at the zero sentinel.
func NewChain() *Chain {
	return &Chain{running: ZeroHash}
}

// Seed resets the running digest to a previously computed value, used when
// resuming a chain after reopening a log file.
func (c *Chain) Seed(hash string) {
	if hash == "" {
		hash = ZeroHash
	}
	c.running = hash
}

// Link sets e.PreviousHash to the current running digest, computes
// e.EventHash from the resulting body, and advances the running digest.
func (c *Chain) Link(e *Envelope) {
	e.PreviousHash = c.running
	e.EventHash = e.ComputeHash()
	c.running = e.EventHash
}

// VerifyNext checks that e's PreviousHash matches the running digest, then
// advances the chain as Link would (without overwriting hashes).
func (c *Chain) VerifyNext(e *Envelope) error {
	if e.PreviousHash != c.running {
		return fmt.Errorf("envelope: hash chain broken at event_id=%s: want previous_hash=%s got %s", e.EventID, c.running, e.PreviousHash)
	}
	want := e.ComputeHash()
	if e.EventHash != want {
		return fmt.Errorf("envelope: hash mismatch at event_id=%s: want %s got %s", e.EventID, want, e.EventHash)
	}
	c.running = e.EventHash
	return nil
}
