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
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is comparisons against the EngineError
// taxonomy (spec §4.5, §7).
var (
	ErrStoragePoisoned     = errors.New("engine: storage poisoned")
	ErrSerializationFailed = errors.New("engine: serialization failed")
	ErrShutdown            = errors.New("engine: shutdown")
)

// DuplicateEventError is returned when an event's idempotence key has
// already been observed (spec §4.5).
type DuplicateEventError struct {
	Key string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("engine: duplicate event: %s", e.Key)
}

// NotLeaderError is returned when a write is attempted on a non-leader node
// (spec §4.5). HTTP maps this to a 307 redirect to CurrentLeaderID.
type NotLeaderError struct {
	CurrentLeaderID string
}

func (e *NotLeaderError) Error() string {
	return fmt.Sprintf("engine: not leader, current leader is %s", e.CurrentLeaderID)
}

// IsDuplicate reports whether err is a DuplicateEventError and returns its key.
func IsDuplicate(err error) (string, bool) {
	var dup *DuplicateEventError
	if errors.As(err, &dup) {
		return dup.Key, true
	}
	return "", false
}

// IsNotLeader reports whether err is a NotLeaderError and returns the
// believed leader id.
func IsNotLeader(err error) (string, bool) {
	var nl *NotLeaderError
	if errors.As(err, &nl) {
		return nl.CurrentLeaderID, true
	}
	return "", false
}
