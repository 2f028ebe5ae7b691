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

// VersionedArticlesAggregate holds entities decoded by
// ArticleCreatedVersioned, kept separate from ArticlesAggregate so the
// upcasting scenario (spec §8, S8) can be exercised without interfering
// with the plain ArticleCreated model above.
const VersionedArticlesAggregate = "articles_versioned"

// ArticleCreatedVersioned is a single decoder spanning two payload shapes
// written under the one event_type tag "test::ArticleCreated.versioned":
// a v1 payload with no slug field, and a v2 payload that adds one. Per
// spec §9 ("unknown tags are logged and skipped, never rejected... prefer
// an extensible registry for forward-compatibility"), the registry holds
// exactly one decoder per tag; schema evolution within a tag is handled by
// the decoder itself rather than by registering a second entry.
type ArticleCreatedVersioned struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version int    `json:"version"`
	Slug    string `json:"slug,omitempty"`
}

func (e *ArticleCreatedVersioned) Apply(s *engine.State) {
	col := s.Aggregate(VersionedArticlesAggregate)
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	col.Set(e.ID, b)
}

func (e *ArticleCreatedVersioned) IdempotenceKey() (string, bool) {
	return fmt.Sprintf("article-created-versioned:%s", e.ID), true
}

func (e *ArticleCreatedVersioned) AggregateID() string { return VersionedArticlesAggregate }

func (e *ArticleCreatedVersioned) EventType() string { return "test::ArticleCreated.versioned" }

// DecodeArticleCreatedVersioned defaults Version to 1 when the payload
// omits it (the v1 shape), so old envelopes written before the field
// existed still decode cleanly.
func DecodeArticleCreatedVersioned(payload json.RawMessage) (engine.Event, error) {
	e := ArticleCreatedVersioned{Version: 1}
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("models: decode ArticleCreatedVersioned: %w", err)
	}
	return &e, nil
}
