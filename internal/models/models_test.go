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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launix-de/raftlog/internal/engine"
)

func TestNewRegistry_DecodesEveryRegisteredTag(t *testing.T) {
	reg := NewRegistry()
	for _, tag := range []string{
		"models::Article.Created",
		"models::User.Created",
		"models::ArticleLinkedToUser",
		"test::ArticleCreated.versioned",
	} {
		_, ok := reg[tag]
		assert.True(t, ok, "expected decoder registered for %s", tag)
	}
}

func TestArticleCreated_ApplyThenLinkToUser_Denormalizes(t *testing.T) {
	s := engine.NewState()

	(&ArticleCreated{ID: "a1", Title: "Hello", Content: "World"}).Apply(s)
	(&UserCreated{ID: "u1", Name: "Alice"}).Apply(s)
	(&ArticleLinkedToUser{ArticleID: "a1", UserID: "u1"}).Apply(s)

	raw, ok := s.Aggregate(ArticlesAggregate).Get("a1")
	require.True(t, ok)
	var a Article
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.Equal(t, "u1", a.AuthorID)

	raw, ok = s.Aggregate(UsersAggregate).Get("u1")
	require.True(t, ok)
	var u User
	require.NoError(t, json.Unmarshal(raw, &u))
	assert.Contains(t, u.Articles, "a1")
}

func TestArticleLinkedToUser_Apply_ToleratesMissingSides(t *testing.T) {
	s := engine.NewState()
	// Neither the article nor the user exists yet; Apply must not panic
	// and must leave state untouched, since link events may arrive out of
	// order relative to the entities they reference.
	(&ArticleLinkedToUser{ArticleID: "missing-a", UserID: "missing-u"}).Apply(s)
	_, ok := s.Aggregate(ArticlesAggregate).Get("missing-a")
	assert.False(t, ok)
}

func TestArticleLinkedToUser_Apply_IsIdempotentOnUserArticlesList(t *testing.T) {
	s := engine.NewState()
	(&ArticleCreated{ID: "a1", Title: "t"}).Apply(s)
	(&UserCreated{ID: "u1", Name: "Alice"}).Apply(s)

	link := &ArticleLinkedToUser{ArticleID: "a1", UserID: "u1"}
	link.Apply(s)
	link.Apply(s)

	raw, ok := s.Aggregate(UsersAggregate).Get("u1")
	require.True(t, ok)
	var u User
	require.NoError(t, json.Unmarshal(raw, &u))
	count := 0
	for _, id := range u.Articles {
		if id == "a1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDecodeArticleCreatedVersioned_DefaultsVersionToOneWhenOmitted(t *testing.T) {
	ev, err := DecodeArticleCreatedVersioned(json.RawMessage(`{"id":"a1","title":"t"}`))
	require.NoError(t, err)
	v := ev.(*ArticleCreatedVersioned)
	assert.Equal(t, 1, v.Version)
	assert.Empty(t, v.Slug)
}

func TestDecodeArticleCreatedVersioned_PreservesExplicitV2Fields(t *testing.T) {
	ev, err := DecodeArticleCreatedVersioned(json.RawMessage(`{"id":"a1","title":"t","version":2,"slug":"hello"}`))
	require.NoError(t, err)
	v := ev.(*ArticleCreatedVersioned)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "hello", v.Slug)
}

func TestArticleCreated_IdempotenceKey_IsStablePerID(t *testing.T) {
	e1 := &ArticleCreated{ID: "a1", Title: "x"}
	e2 := &ArticleCreated{ID: "a1", Title: "y"}
	k1, ok1 := e1.IdempotenceKey()
	k2, ok2 := e2.IdempotenceKey()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, k1, k2)
}
