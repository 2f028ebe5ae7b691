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
	"fmt"
	"path/filepath"

	"github.com/launix-de/raftlog/internal/config"
	"github.com/launix-de/raftlog/internal/dedup"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/filestore"
	"github.com/launix-de/raftlog/internal/multistore"
	"github.com/launix-de/raftlog/internal/singlestore"
	"github.com/launix-de/raftlog/internal/snapshot"
)

// openStore builds the sharded or non-sharded EventStore named by
// cfg.Sharded, wiring whichever snapshot backend cfg.SnapshotBackend names.
// Shared by every subcommand that touches disk (serve, replay, snapshot,
// verify-chain, inspect) so they agree on exactly one storage layout.
func openStore(cfg config.Settings) (engine.EventStore, error) {
	logCfg := filestore.Config{
		MaxLogFileSize:   cfg.MaxLogFileSize,
		HashChainEnabled: cfg.HashChainEnabled,
		CompressRotated:  cfg.CompressRotated,
		Batch: filestore.BatchPolicy{
			MaxBatchSize:  cfg.EventMaxBatch,
			FlushInterval: cfg.FlushInterval(),
			FsyncOnAppend: cfg.FsyncOnAppend,
		},
	}
	dedupCfg := dedup.Policy{
		MaxBatchSize:  cfg.EventMaxBatch,
		FlushInterval: cfg.FlushInterval(),
		FsyncOnAppend: cfg.FsyncOnAppend,
	}

	backendFor := func(aggregateDir string) snapshot.Backend {
		return snapshotBackend(cfg, aggregateDir)
	}

	if cfg.DedupBackend != "" && cfg.DedupBackend != "file" {
		sqlIdx, err := dedup.OpenSQL(dedup.SQLConfig{
			Driver: dedup.SQLDriver(cfg.DedupBackend),
			DSN:    cfg.DedupDSN,
			Table:  cfg.DedupTable,
		})
		if err != nil {
			return nil, fmt.Errorf("raftlogd: open %s dedup backend: %w", cfg.DedupBackend, err)
		}
		if cfg.Sharded {
			return multistore.OpenWithDedup(cfg.DataDir, logCfg, backendFor, sqlIdx)
		}
		return singlestore.OpenWithDedup(cfg.DataDir, logCfg, snapshotBackend(cfg, cfg.DataDir), sqlIdx)
	}

	if cfg.Sharded {
		return multistore.Open(cfg.DataDir, logCfg, dedupCfg, backendFor)
	}
	return singlestore.Open(cfg.DataDir, logCfg, dedupCfg, snapshotBackend(cfg, cfg.DataDir))
}

// snapshotBackend selects the Backend named by cfg.SnapshotBackend. Ceph
// support compiles in only under the "ceph" build tag (internal/snapshot's
// ceph_stub.go panics on use otherwise, matching the teacher's
// persistence-ceph-stub.go).
func snapshotBackend(cfg config.Settings, dir string) snapshot.Backend {
	switch cfg.SnapshotBackend {
	case "s3":
		return snapshot.NewS3Backend(snapshot.S3Config{
			Bucket: cfg.SnapshotBucket,
			Prefix: filepath.Base(dir),
		})
	case "ceph":
		b, err := snapshot.NewCephBackend(snapshot.CephConfig{
			Pool:   cfg.SnapshotBucket,
			Prefix: filepath.Base(dir),
		})
		if err != nil {
			panic(fmt.Sprintf("raftlogd: ceph backend: %v", err))
		}
		return b
	default:
		return snapshot.NewFileBackend(dir, cfg.SnapshotLZ4)
	}
}
