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

package models

import (
	"encoding/json"
	"fmt"

	"github.com/launix-de/raftlog/internal/engine"
)

// UsersAggregate is the routing key for every user-related event.
const UsersAggregate = "users"

// User is the materialised entity stored in the users collection.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Articles []string `json:"articles,omitempty"`
}

// UserCreated is the event that introduces a new user (spec §9, S5).
type UserCreated struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *UserCreated) Apply(s *engine.State) {
	col := s.Aggregate(UsersAggregate)
	existing := User{}
	if raw, ok := col.Get(e.ID); ok {
		_ = json.Unmarshal(raw, &existing)
	}
	u := User{ID: e.ID, Name: e.Name, Articles: existing.Articles}
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	col.Set(e.ID, b)
}

func (e *UserCreated) IdempotenceKey() (string, bool) {
	return fmt.Sprintf("user-created:%s", e.ID), true
}

func (e *UserCreated) AggregateID() string { return UsersAggregate }

func (e *UserCreated) EventType() string { return "models::User.Created" }

// DecodeUserCreated is the Registry decoder for UserCreated.
func DecodeUserCreated(payload json.RawMessage) (engine.Event, error) {
	var e UserCreated
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("models: decode UserCreated: %w", err)
	}
	return &e, nil
}
