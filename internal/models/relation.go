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

// RelationsAggregate is the routing key cross-aggregate link events are
// logged under (spec §9 "never embed owning references that would require
// cross-shard ordering").
const RelationsAggregate = "relations"

// ArticleLinkedToUser denormalises the articles<->users relation: it sets
// author_id on the article and appends to the user's articles list. Per
// the spec §9 open-question decision, linking to a missing article or user
// is accepted — only whatever side currently exists is mutated, which
// keeps Apply deterministic regardless of the order replication or replay
// delivers events in.
type ArticleLinkedToUser struct {
	ArticleID string `json:"article_id"`
	UserID    string `json:"user_id"`
}

func (e *ArticleLinkedToUser) Apply(s *engine.State) {
	articles := s.Aggregate(ArticlesAggregate)
	if raw, ok := articles.Get(e.ArticleID); ok {
		var a Article
		if json.Unmarshal(raw, &a) == nil {
			a.AuthorID = e.UserID
			if b, err := json.Marshal(a); err == nil {
				articles.Set(e.ArticleID, b)
			}
		}
	}

	users := s.Aggregate(UsersAggregate)
	if raw, ok := users.Get(e.UserID); ok {
		var u User
		if json.Unmarshal(raw, &u) == nil {
			if !containsString(u.Articles, e.ArticleID) {
				u.Articles = append(u.Articles, e.ArticleID)
			}
			if b, err := json.Marshal(u); err == nil {
				users.Set(e.UserID, b)
			}
		}
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (e *ArticleLinkedToUser) IdempotenceKey() (string, bool) {
	return fmt.Sprintf("article-linked-to-user:%s:%s", e.ArticleID, e.UserID), true
}

func (e *ArticleLinkedToUser) AggregateID() string { return RelationsAggregate }

func (e *ArticleLinkedToUser) EventType() string { return "models::ArticleLinkedToUser" }

// DecodeArticleLinkedToUser is the Registry decoder for ArticleLinkedToUser.
func DecodeArticleLinkedToUser(payload json.RawMessage) (engine.Event, error) {
	var e ArticleLinkedToUser
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("models: decode ArticleLinkedToUser: %w", err)
	}
	return &e, nil
}
