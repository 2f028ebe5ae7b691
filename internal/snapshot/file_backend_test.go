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
package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_SaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir, false)

	require.NoError(t, b.Save([]byte(`{"version":1}`)))
	data, ok, err := b.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"version":1}`, string(data))
	assert.FileExists(t, filepath.Join(dir, "state.raftsnap"))
}

func TestFileBackend_Load_AbsentReturnsNotOK(t *testing.T) {
	b := NewFileBackend(t.TempDir(), false)
	_, ok, err := b.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileBackend_Compressed_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir, true)

	payload := []byte(`{"version":1,"aggregates":{"widget":{"w1":{"id":"w1"}}}}`)
	require.NoError(t, b.Save(payload))
	assert.FileExists(t, filepath.Join(dir, "state.raftsnap.lz4"))

	data, ok, err := b.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, data)
}

func TestFileBackend_Save_OverwritesPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir, false)

	require.NoError(t, b.Save([]byte(`{"version":1}`)))
	require.NoError(t, b.Save([]byte(`{"version":2}`)))

	data, ok, err := b.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"version":2}`, string(data))
}

func TestStore_SaveLoad_DelegatesToBackend(t *testing.T) {
	s := NewStore(NewFileBackend(t.TempDir(), false))
	require.NoError(t, s.Save([]byte(`{"version":1}`)))
	data, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"version":1}`, string(data))
}
