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
package main

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/filestore"
	"github.com/launix-de/raftlog/internal/singlestore"
)

func newInspectTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := singlestore.Open(dir, filestore.DefaultConfig(), dedup.DefaultPolicy(), nil)
	require.NoError(t, err)
	writer := asyncwriter.New(store, 64, 64)
	container := engine.NewRWLockContainer(engine.NewState())
	eng := engine.New(container, store, writer, engine.Config{})
	eng.MarkReplaying()
	eng.MarkReady()
	t.Cleanup(func() {
		writer.Close()
		store.Close()
	})
	return eng
}

type articleStub struct {
	ID string `json:"id"`
}

func (a *articleStub) Apply(s *engine.State) {
	s.Aggregate("widget").Set(a.ID, json.RawMessage(`{"id":"`+a.ID+`"}`))
}
func (a *articleStub) IdempotenceKey() (string, bool) { return "", false }
func (a *articleStub) AggregateID() string            { return "widget" }
func (a *articleStub) EventType() string              { return "widget.created" }

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestRunInspectCommand_QuitAndExitTerminateTheRepl(t *testing.T) {
	eng := newInspectTestEngine(t)
	assert.True(t, runInspectCommand(eng, "quit"))
	assert.True(t, runInspectCommand(eng, "exit"))
}

func TestRunInspectCommand_UnknownCommandDoesNotTerminate(t *testing.T) {
	eng := newInspectTestEngine(t)
	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "bogus"))
	})
	assert.Contains(t, out, `unknown command "bogus"`)
}

func TestRunInspectCommand_EmptyLineDoesNotTerminate(t *testing.T) {
	eng := newInspectTestEngine(t)
	assert.False(t, runInspectCommand(eng, ""))
}

func TestRunInspectCommand_GetWithWrongArgCountPrintsUsage(t *testing.T) {
	eng := newInspectTestEngine(t)
	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "get widget"))
	})
	assert.Contains(t, out, "usage: get <aggregate> <id>")
}

func TestRunInspectCommand_GetReturnsEntityJSON(t *testing.T) {
	eng := newInspectTestEngine(t)
	require.NoError(t, eng.ApplyEvent(&articleStub{ID: "w1"}))

	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "get widget w1"))
	})
	assert.Contains(t, out, `"id":"w1"`)
}

func TestRunInspectCommand_GetMissingEntityReportsNotFound(t *testing.T) {
	eng := newInspectTestEngine(t)
	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "get widget nope"))
	})
	assert.Contains(t, out, "not found")
}

func TestRunInspectCommand_AggregatesListsEveryAggregateByCount(t *testing.T) {
	eng := newInspectTestEngine(t)
	require.NoError(t, eng.ApplyEvent(&articleStub{ID: "w1"}))
	require.NoError(t, eng.ApplyEvent(&articleStub{ID: "w2"}))

	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "aggregates"))
	})
	assert.Contains(t, out, "widget")
	assert.Contains(t, out, "2 entities")
}

func TestRunInspectCommand_VersionPrintsStateVersion(t *testing.T) {
	eng := newInspectTestEngine(t)
	require.NoError(t, eng.ApplyEvent(&articleStub{ID: "w1"}))

	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "version"))
	})
	assert.NotEmpty(t, out)
}

func TestRunInspectCommand_CorruptionReportsEngineFlag(t *testing.T) {
	eng := newInspectTestEngine(t)
	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "corruption"))
	})
	assert.Contains(t, out, "false")
}

func TestRunInspectCommand_HelpListsAvailableCommands(t *testing.T) {
	eng := newInspectTestEngine(t)
	out := captureStdout(t, func() {
		assert.False(t, runInspectCommand(eng, "help"))
	})
	assert.Contains(t, out, "aggregates | get <aggregate> <id>")
}

func TestAggregateRowLess_OrdersByCountDescendingThenNameAscending(t *testing.T) {
	assert.True(t, aggregateRowLess(aggregateRow{name: "b", len: 5}, aggregateRow{name: "a", len: 3}))
	assert.False(t, aggregateRowLess(aggregateRow{name: "a", len: 3}, aggregateRow{name: "b", len: 5}))
	assert.True(t, aggregateRowLess(aggregateRow{name: "a", len: 3}, aggregateRow{name: "b", len: 3}))
}
