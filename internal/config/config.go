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

// Package config loads the ambient Settings struct the rest of the process
// reads from, the way the teacher's storage/settings.go keeps one
// package-level SettingsT: a TOML file (github.com/pelletier/go-toml/v2)
// provides the base, environment variables (the RS_* vars from spec §6)
// override it, and github.com/fsnotify/fsnotify watches the file for
// operator-triggered hot reload. github.com/dc0d/onexit registers the
// watcher's shutdown the same way the teacher registers its trace-file
// close.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dc0d/onexit"
	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// Settings is the single process-wide configuration value, read once at
// startup and again on every hot-reload (spec §9 "read env once at top
// level", generalized to "read config once per reload").
type Settings struct {
	NodeID   string   `toml:"node_id"`
	DataDir  string   `toml:"data_dir"`
	Peers    []string `toml:"peers"`
	ListenOn string   `toml:"listen_on"`

	Sharded bool `toml:"sharded"` // multistore (true) vs singlestore (false)

	DedupPersist      bool   `toml:"dedup_persist"`
	MaxLogFileSize    int64  `toml:"max_log_file_size"`
	MaxLogFileSizeStr string `toml:"max_log_file_size_human"` // e.g. "64MB", parsed via go-units if set
	FsyncOnAppend     bool   `toml:"fsync_on_append"`
	EventMaxBatch     int    `toml:"event_max_batch"`
	FlushIntervalMS   int    `toml:"flush_interval_ms"`

	HashChainEnabled bool   `toml:"hash_chain_enabled"`
	SnapshotEvery    uint64 `toml:"snapshot_every"`
	SnapshotBackend  string `toml:"snapshot_backend"` // "file", "s3", "ceph"
	SnapshotBucket   string `toml:"snapshot_bucket"`
	SnapshotLZ4      bool   `toml:"snapshot_lz4"`

	// CompressRotated xz-compresses rotated log siblings once they age out
	// of the most-recent slot. Off by default since it trades rotation-time
	// CPU for disk, a tradeoff only long-lived archival deployments want.
	CompressRotated bool `toml:"compress_rotated"`

	// DedupBackend selects the processed-key/idempotence-key store: "file"
	// (default) for the local dedup.Index, or "mysql"/"postgres" for an
	// external-table dedup.SQLIndex reachable via DedupDSN.
	DedupBackend string `toml:"dedup_backend"`
	DedupDSN     string `toml:"dedup_dsn"`
	DedupTable   string `toml:"dedup_table"`

	ElectionTimeoutMS int `toml:"election_timeout_ms"`

	AtomicStateContainer bool `toml:"atomic_state_container"`
}

// Default mirrors the spec §6 documented defaults ("all optional, all have
// defaults").
func Default() Settings {
	return Settings{
		NodeID:            hostnameOrFallback(),
		DataDir:           "./data",
		ListenOn:          ":8080",
		Sharded:           true,
		DedupPersist:      true,
		MaxLogFileSize:    0,
		FsyncOnAppend:     false,
		EventMaxBatch:     256,
		FlushIntervalMS:   100,
		HashChainEnabled:  false,
		SnapshotEvery:     0,
		SnapshotBackend:   "file",
		DedupBackend:      "file",
		SnapshotLZ4:       false,
		ElectionTimeoutMS: 5000,
	}
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "node-1"
	}
	return h
}

// Load reads path as TOML on top of Default(), then applies RS_* environment
// overrides.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return s, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&s); err != nil {
		return s, err
	}
	if s.MaxLogFileSizeStr != "" {
		n, err := units.RAMInBytes(s.MaxLogFileSizeStr)
		if err != nil {
			return s, fmt.Errorf("config: max_log_file_size_human: %w", err)
		}
		s.MaxLogFileSize = n
	}
	return s, nil
}

// applyEnvOverrides mutates s in place from the spec §6 RS_* environment
// variables, each of which is optional.
func applyEnvOverrides(s *Settings) error {
	if v, ok := os.LookupEnv("RS_DEDUP_PERSIST"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: RS_DEDUP_PERSIST: %w", err)
		}
		s.DedupPersist = b
	}
	if v, ok := os.LookupEnv("RS_MAX_LOG_FILE_SIZE"); ok {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("config: RS_MAX_LOG_FILE_SIZE: %w", err)
		}
		s.MaxLogFileSize = n
	}
	if v, ok := os.LookupEnv("RS_FSYNC_ON_APPEND"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: RS_FSYNC_ON_APPEND: %w", err)
		}
		s.FsyncOnAppend = b
	}
	if v, ok := os.LookupEnv("RS_EVENT_MAX_BATCH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RS_EVENT_MAX_BATCH: %w", err)
		}
		s.EventMaxBatch = n
	}
	if v, ok := os.LookupEnv("RS_FLUSH_INTERVAL_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RS_FLUSH_INTERVAL_MS: %w", err)
		}
		s.FlushIntervalMS = n
	}
	return nil
}

// FlushInterval returns FlushIntervalMS as a time.Duration.
func (s Settings) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMS) * time.Millisecond
}

// ElectionTimeout returns ElectionTimeoutMS as a time.Duration.
func (s Settings) ElectionTimeout() time.Duration {
	return time.Duration(s.ElectionTimeoutMS) * time.Millisecond
}

// Watcher reloads Settings from disk whenever path changes and hands the
// new value to onChange. Grounded on the teacher's onexit.Register pattern
// for tearing down background resources at process exit.
type Watcher struct {
	mu      sync.Mutex
	current Settings
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path for changes, calling onChange (and updating
// Current) on every write event. The initial value must already have been
// loaded via Load; Watch only reacts to subsequent file changes.
func Watch(path string, initial Settings, onChange func(Settings, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{current: initial, watcher: fw, done: make(chan struct{})}
	go w.run(path, onChange)
	onexit.Register(func() { w.Close() })
	return w, nil
}

func (w *Watcher) run(path string, onChange func(Settings, error)) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s, err := Load(path)
			if err == nil {
				w.mu.Lock()
				w.current = s
				w.mu.Unlock()
			}
			onChange(s, err)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Current returns the most recently loaded settings value.
func (w *Watcher) Current() Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
