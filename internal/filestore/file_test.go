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
package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launix-de/raftlog/internal/envelope"
)

func mustAppend(t *testing.T, fs *FileStorage, id string) {
	t.Helper()
	require.NoError(t, fs.AppendEvent(&envelope.Envelope{EventType: "t", EventID: id, Payload: "{}"}))
	require.NoError(t, fs.FlushBatch())
}

func TestFileStorage_AppendAndReadAllEvents(t *testing.T) {
	dir := t.TempDir()
	fs, err := Open(dir, DefaultConfig())
	require.NoError(t, err)

	mustAppend(t, fs, "1")
	mustAppend(t, fs, "2")

	lines, err := fs.ReadAllEvents()
	require.NoError(t, err)
	require.Len(t, lines, 2)

	env1, err := envelope.Unmarshal(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "1", env1.EventID)
}

func TestFileStorage_HashChain_SeedsOnReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.HashChainEnabled = true

	fs, err := Open(dir, cfg)
	require.NoError(t, err)
	mustAppend(t, fs, "1")
	mustAppend(t, fs, "2")

	reopened, err := Open(dir, cfg)
	require.NoError(t, err)
	mustAppend(t, reopened, "3")

	lines, err := reopened.ReadAllEvents()
	require.NoError(t, err)
	require.Len(t, lines, 3)

	env2, err := envelope.Unmarshal(lines[1])
	require.NoError(t, err)
	env3, err := envelope.Unmarshal(lines[2])
	require.NoError(t, err)
	assert.Equal(t, env2.EventHash, env3.PreviousHash)
}

func TestFileStorage_Rotate_SplitsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxLogFileSize = 1 // force rotation on every append

	fs, err := Open(dir, cfg)
	require.NoError(t, err)

	mustAppend(t, fs, "1")
	mustAppend(t, fs, "2")
	mustAppend(t, fs, "3")

	lines, err := fs.ReadAllEvents()
	require.NoError(t, err)
	require.Len(t, lines, 3)

	ids := make([]string, len(lines))
	for i, l := range lines {
		e, err := envelope.Unmarshal(l)
		require.NoError(t, err)
		ids[i] = e.EventID
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	assert.FileExists(t, filepath.Join(dir, "events.raftlog.1"))
	assert.FileExists(t, filepath.Join(dir, "events.raftlog.2"))
}

func TestFileStorage_Rotate_CompressesColdSiblings(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxLogFileSize = 1
	cfg.CompressRotated = true

	fs, err := Open(dir, cfg)
	require.NoError(t, err)

	mustAppend(t, fs, "1")
	mustAppend(t, fs, "2")
	mustAppend(t, fs, "3")

	// The oldest rotation (.2) should have aged out of the most-recent
	// slot and been compressed; the newest rotation (.1) stays plain.
	assert.FileExists(t, filepath.Join(dir, "events.raftlog.2.xz"))
	assert.NoFileExists(t, filepath.Join(dir, "events.raftlog.2"))
	assert.FileExists(t, filepath.Join(dir, "events.raftlog.1"))

	lines, err := fs.ReadAllEvents()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	ids := make([]string, len(lines))
	for i, l := range lines {
		e, err := envelope.Unmarshal(l)
		require.NoError(t, err)
		ids[i] = e.EventID
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestFileStorage_TruncateEvents_EmptiesLog(t *testing.T) {
	dir := t.TempDir()
	fs, err := Open(dir, DefaultConfig())
	require.NoError(t, err)

	mustAppend(t, fs, "1")
	require.NoError(t, fs.TruncateEvents())

	lines, err := fs.ReadAllEvents()
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestOpen_TruncatesPartialFinalLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"event_id":"1"}`+"\n"+`{"event_id":"2"`), 0640))

	fs, err := Open(dir, DefaultConfig())
	require.NoError(t, err)

	lines, err := fs.ReadAllEvents()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	env, err := envelope.Unmarshal(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "1", env.EventID)
}
