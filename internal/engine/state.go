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
	"bytes"
	"encoding/json"
	"fmt"
)

// Collection is an ordered-by-insertion map from entity id to its JSON
// representation. Insertion order is preserved across Set so replaying the
// log twice produces byte-identical serialisation (invariant 1, spec §3).
type Collection struct {
	order []string
	items map[string]json.RawMessage
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{items: make(map[string]json.RawMessage)}
}

// Get returns the entity's JSON value and whether it exists.
func (c *Collection) Get(id string) (json.RawMessage, bool) {
	v, ok := c.items[id]
	return v, ok
}

// Set inserts or replaces an entity, appending to the insertion order only
// the first time the id is seen.
func (c *Collection) Set(id string, value json.RawMessage) {
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = value
}

// Delete removes an entity, if present.
func (c *Collection) Delete(id string) {
	if _, exists := c.items[id]; !exists {
		return
	}
	delete(c.items, id)
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of entities in the collection.
func (c *Collection) Len() int {
	return len(c.items)
}

// Keys returns entity ids in insertion order.
func (c *Collection) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Clone returns a deep copy suitable for copy-on-write publication under the
// lock-free state container (§4.6).
func (c *Collection) Clone() *Collection {
	out := &Collection{
		order: make([]string, len(c.order)),
		items: make(map[string]json.RawMessage, len(c.items)),
	}
	copy(out.order, c.order)
	for k, v := range c.items {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out.items[k] = cp
	}
	return out
}

// MarshalJSON renders the collection as a JSON object with keys in
// insertion order, since encoding/json always sorts plain map keys and that
// would violate the ordered-map semantic spec §3 calls for.
func (c *Collection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(c.items[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a collection from a snapshot, preserving the key
// order as encountered in the raw token stream.
func (c *Collection) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("engine: collection: expected object")
	}
	c.items = make(map[string]json.RawMessage)
	c.order = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("engine: collection: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		c.Set(key, raw)
	}
	return nil
}

// State is the in-memory structure owned by the Engine: a mapping from
// aggregate name to a keyed collection of entities, plus a monotonic
// version counter incremented on every applied event (spec §3).
type State struct {
	Aggregates map[string]*Collection `json:"aggregates"`
	Version    uint64                 `json:"version"`
}

// NewState returns an empty, version-0 state.
func NewState() *State {
	return &State{Aggregates: make(map[string]*Collection)}
}

// Aggregate returns (creating if necessary) the named aggregate collection.
// Aggregate routing is a thin projection: the state remains a single owned
// value (spec §4.5).
func (s *State) Aggregate(name string) *Collection {
	c, ok := s.Aggregates[name]
	if !ok {
		c = NewCollection()
		s.Aggregates[name] = c
	}
	return c
}

// AggregateSnapshot is the on-disk snapshot payload for one aggregate under
// a sharded store: just that aggregate's collection, plus the global
// version counter at the moment it was captured (spec §4.4, §4.2) so replay
// can resume version numbering without rescanning every other shard.
type AggregateSnapshot struct {
	Version    uint64      `json:"version"`
	Collection *Collection `json:"collection"`
}

// Clone performs a deep copy-on-write snapshot of the whole state, used by
// the lock-free state container's writer path (spec §4.6).
func (s *State) Clone() *State {
	out := &State{
		Aggregates: make(map[string]*Collection, len(s.Aggregates)),
		Version:    s.Version,
	}
	for name, c := range s.Aggregates {
		out.Aggregates[name] = c.Clone()
	}
	return out
}
