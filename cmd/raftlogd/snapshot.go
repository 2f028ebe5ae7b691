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

	"github.com/spf13/cobra"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/config"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/logging"
	"github.com/launix-de/raftlog/internal/models"
	"github.com/launix-de/raftlog/internal/replay"
)

func newSnapshotCommand(root *RootOptions) *cobra.Command {
	var aggregate string

	cmd := &cobra.Command{
		Use:           "snapshot",
		Short:         "Replay, then force a snapshot+truncate of one aggregate (or all)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotCommand(root, cmd, aggregate)
		},
	}
	cmd.Flags().StringVar(&aggregate, "aggregate", "", "aggregate to snapshot (default: all aggregates)")
	return cmd
}

func runSnapshotCommand(root *RootOptions, cmd *cobra.Command, aggregate string) error {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	logger := logging.New(logging.Options{NodeID: cfg.NodeID, Verbose: root.Verbose})

	store, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open storage", err)
	}
	defer store.Close()

	writer := asyncwriter.New(store, cfg.EventMaxBatch, cfg.EventMaxBatch)
	defer writer.Close()

	container := engine.NewRWLockContainer(engine.NewState())
	eng := engine.New(container, store, writer, engine.Config{})

	if _, err := replay.Run(eng, replay.Options{Registry: models.NewRegistry(), Logger: logger}); err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}

	aggregates := []string{aggregate}
	if aggregate == "" {
		aggregates, err = store.Aggregates()
		if err != nil {
			return WrapExitError(ExitCommandError, "enumerate aggregates", err)
		}
	}

	snapped := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		if err := eng.SnapshotNow(agg); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("snapshot aggregate %s", agg), err)
		}
		snapped = append(snapped, agg)
	}

	if root.Format == "json" {
		return writeJSONResponse(cmd.OutOrStdout(), map[string]any{"snapshotted": snapped}, nil)
	}
	w := cmd.OutOrStdout()
	for _, agg := range snapped {
		fmt.Fprintf(w, "snapshotted %s\n", agg)
	}
	return nil
}
