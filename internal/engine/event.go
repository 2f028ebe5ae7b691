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

import "encoding/json"

// Event is the capability set every declarative model's event type must
// implement (spec §3): a deterministic mutation, a stable dedup key, and a
// routing key selecting the log shard.
type Event interface {
	// Apply mutates state in place. It must be pure and deterministic:
	// replaying the same event against the same prior state always
	// produces the same result (invariant 1, spec §3).
	Apply(s *State)

	// IdempotenceKey returns a stable identifier for deduplication, or
	// ("", false) if the event carries none.
	IdempotenceKey() (string, bool)

	// AggregateID returns the routing key selecting the log shard.
	// Implementations should return GlobalAggregateName when the event
	// has no natural aggregate.
	AggregateID() string

	// EventType returns the fully-qualified type tag written into the
	// envelope, e.g. "models::Article.Created".
	EventType() string
}

// GlobalAggregateName is the default aggregate for events with no natural
// routing key.
const GlobalAggregateName = "global"

// Decoder turns a raw JSON payload into a typed Event. Registered per
// event-type tag (spec §4.10); unknown tags are logged and skipped, never
// rejected, to permit rolling upgrades (spec §9).
type Decoder func(payload json.RawMessage) (Event, error)

// Registry maps event_type tags to their decoders.
type Registry map[string]Decoder

// Decode looks up the decoder for eventType and runs it. The second return
// value is false when the tag is unknown.
func (r Registry) Decode(eventType string, payload json.RawMessage) (Event, bool, error) {
	dec, ok := r[eventType]
	if !ok {
		return nil, false, nil
	}
	ev, err := dec(payload)
	return ev, true, err
}
