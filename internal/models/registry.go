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

import "github.com/launix-de/raftlog/internal/engine"

// NewRegistry returns the decoder registry for every event type this
// module ships, the set cmd/raftlogd wires into the Engine and replay pass
// by default.
func NewRegistry() engine.Registry {
	return engine.Registry{
		"models::Article.Created":        DecodeArticleCreated,
		"models::User.Created":           DecodeUserCreated,
		"models::ArticleLinkedToUser":    DecodeArticleLinkedToUser,
		"test::ArticleCreated.versioned": DecodeArticleCreatedVersioned,
	}
}
