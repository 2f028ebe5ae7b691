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

// Package models holds the example declarative event types used to
// exercise the engine end to end (spec §9's articles/users/relations
// example). Grounded on the teacher's storage/tables_catalog.go
// registry-by-name pattern, generalized from "table schema by name" to
// "event decoder by event_type tag".
package models

import (
	"encoding/json"
	"fmt"

	"github.com/launix-de/raftlog/internal/engine"
)

// ArticlesAggregate is the routing key for every article-related event.
const ArticlesAggregate = "articles"

// Article is the materialised entity stored in the articles collection.
type Article struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	AuthorID string `json:"author_id,omitempty"`
}

// ArticleCreated is the event that introduces a new article (spec §9, S1).
type ArticleCreated struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (e *ArticleCreated) Apply(s *engine.State) {
	col := s.Aggregate(ArticlesAggregate)
	existing := Article{}
	if raw, ok := col.Get(e.ID); ok {
		_ = json.Unmarshal(raw, &existing)
	}
	a := Article{ID: e.ID, Title: e.Title, Content: e.Content, AuthorID: existing.AuthorID}
	b, err := json.Marshal(a)
	if err != nil {
		return
	}
	col.Set(e.ID, b)
}

func (e *ArticleCreated) IdempotenceKey() (string, bool) {
	return fmt.Sprintf("article-created:%s", e.ID), true
}

func (e *ArticleCreated) AggregateID() string { return ArticlesAggregate }

func (e *ArticleCreated) EventType() string { return "models::Article.Created" }

// DecodeArticleCreated is the Registry decoder for ArticleCreated.
func DecodeArticleCreated(payload json.RawMessage) (engine.Event, error) {
	var e ArticleCreated
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("models: decode ArticleCreated: %w", err)
	}
	return &e, nil
}
