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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/config"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/models"
)

func seedOneArticle(t *testing.T, cfgPath, dataDir string) {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	store, err := openStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	writer := asyncwriter.New(store, 64, 64)
	defer writer.Close()
	container := engine.NewRWLockContainer(engine.NewState())
	eng := engine.New(container, store, writer, engine.Config{})
	eng.MarkReplaying()
	eng.MarkReady()

	require.NoError(t, eng.ApplyEvent(&models.ArticleCreated{ID: "a1", Title: "Hello"}))
	require.NoError(t, eng.Flush())
}

func TestSnapshotCommand_TruncatesLogAfterSnapshotting(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTestConfig(t, dataDir)
	seedOneArticle(t, cfgPath, dataDir)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "--format", "json", "snapshot"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "articles")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	store, err := openStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	lines, err := store.ReadAllEvents("articles")
	require.NoError(t, err)
	assert.Empty(t, lines, "snapshot should truncate the aggregate's log")
}

func TestSnapshotCommand_SingleAggregateFlagLimitsScope(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTestConfig(t, dataDir)
	seedOneArticle(t, cfgPath, dataDir)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "snapshot", "--aggregate", "articles"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "snapshotted articles")
}
