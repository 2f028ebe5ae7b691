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
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/launix-de/raftlog/internal/adminui"
	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/config"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/httpapi"
	"github.com/launix-de/raftlog/internal/leadership"
	"github.com/launix-de/raftlog/internal/logging"
	"github.com/launix-de/raftlog/internal/models"
	"github.com/launix-de/raftlog/internal/replay"
	"github.com/launix-de/raftlog/internal/replication"
)

// ServeOptions holds flags for "raftlogd serve".
type ServeOptions struct {
	*RootOptions
}

func newServeCommand(root *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the node: replay on-disk state and serve the REST/replication API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	return cmd
}

// runServe wires every component (spec §4.5, §4.8-4.10): load config, open
// storage, construct the Engine with its leadership/replication/admin-ui
// hooks, replay to Ready, then serve until a signal arrives.
func runServe(opts *ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	logger := logging.New(logging.Options{NodeID: cfg.NodeID, Verbose: opts.Verbose})

	store, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open storage", err)
	}

	writer := asyncwriter.New(store, cfg.EventMaxBatch*4, cfg.EventMaxBatch)

	var container engine.Container
	if cfg.AtomicStateContainer {
		container = engine.NewAtomicContainer(engine.NewState())
	} else {
		container = engine.NewRWLockContainer(engine.NewState())
	}

	var leader *leadership.State
	if len(cfg.Peers) > 0 {
		leader = leadership.New(leadership.Config{
			SelfID:          cfg.NodeID,
			Peers:           cfg.Peers,
			ElectionTimeout: cfg.ElectionTimeout(),
		})
	}

	var cfgWatcher *config.Watcher
	if opts.ConfigPath != "" {
		cfgWatcher, err = config.Watch(opts.ConfigPath, cfg, func(newCfg config.Settings, err error) {
			if err != nil {
				logger.Warn("config: hot-reload failed", "error", err)
				return
			}
			if leader != nil {
				leader.SetElectionTimeout(newCfg.ElectionTimeout())
			}
			logger.Info("config: reloaded", "election_timeout_ms", newCfg.ElectionTimeoutMS)
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "watch config", err)
		}
	}

	var outbound *replication.Outbound
	if leader != nil {
		outbound = replication.NewOutbound(replication.OutboundConfig{
			SelfID:     cfg.NodeID,
			Peers:      cfg.Peers,
			Logger:     logger,
			Leadership: leader,
		})
	}

	registry := models.NewRegistry()

	engCfg := engine.Config{
		SnapshotEvery: cfg.SnapshotEvery,
	}
	if leader != nil {
		engCfg.IsLeader = leader.IsLeader
		engCfg.CurrentLeaderID = leader.CurrentLeaderID
	}
	if outbound != nil {
		engCfg.OnReplicate = outbound.Enqueue
	}

	eng := engine.New(container, store, writer, engCfg)
	hub := adminui.New(eng, logger)
	eng.SetOnApplied(hub.Publish)

	res, err := replay.Run(eng, replay.Options{
		Registry:        registry,
		VerifyHashChain: cfg.HashChainEnabled,
		Logger:          logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}
	logger.Info("replay complete",
		"aggregates", res.AggregatesLoaded,
		"events_applied", res.EventsApplied,
		"events_skipped", res.EventsSkipped,
		"corrupt_lines", res.CorruptLines)

	var inbound *replication.Inbound
	if leader != nil {
		inbound, err = replication.NewInbound(replication.InboundConfig{
			Leadership:   leader,
			Engine:       eng,
			Registry:     registry,
			ProcessedDir: filepath.Join(cfg.DataDir, "replication"),
			Logger:       logger,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "open inbound replication", err)
		}
	}

	srv := httpapi.New(httpapi.Config{
		Engine:     eng,
		Registry:   registry,
		Leadership: leader,
		Inbound:    inbound,
		Logger:     logger,
	})
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.HandleFunc("/admin/tail", hub.HandleTail)
	mux.HandleFunc("/admin/tail/corruption", hub.HandleCorruption)
	httpSrv := &http.Server{
		Addr:         cfg.ListenOn,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenOn)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-serveErrCh:
		logger.Error("http server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	if cfgWatcher != nil {
		cfgWatcher.Close()
	}
	if outbound != nil {
		outbound.Close()
	}
	if inbound != nil {
		inbound.Close()
	}
	if err := eng.Shutdown(); err != nil {
		return WrapExitError(ExitFailure, "engine shutdown", err)
	}
	return nil
}
