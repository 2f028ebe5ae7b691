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
package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_InsertIfAbsent_RejectsDuplicate(t *testing.T) {
	idx, err := Open(t.TempDir(), Policy{})
	require.NoError(t, err)
	defer idx.Close()

	added, err := idx.InsertIfAbsent("key-1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = idx.InsertIfAbsent("key-1")
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, idx.Seen("key-1"))
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, Policy{})
	require.NoError(t, err)
	_, err = idx.InsertIfAbsent("key-1")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := Open(dir, Policy{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Seen("key-1"))
	added, err := reopened.InsertIfAbsent("key-1")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestIndex_Flush_WritesPendingBatch(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, Policy{MaxBatchSize: 10})
	require.NoError(t, err)

	_, err = idx.InsertIfAbsent("a")
	require.NoError(t, err)
	_, err = idx.InsertIfAbsent("b")
	require.NoError(t, err)
	require.NoError(t, idx.Flush())
	require.NoError(t, idx.Close())

	reopened, err := Open(dir, Policy{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Len())
}

func TestReplaySet_InsertIfAbsent_DoesNotTouchDisk(t *testing.T) {
	r := NewReplaySet()
	assert.True(t, r.InsertIfAbsent("a"))
	assert.False(t, r.InsertIfAbsent("a"))
	assert.True(t, r.InsertIfAbsent("b"))
}
