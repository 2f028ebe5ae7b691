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
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/btree"
	"github.com/spf13/cobra"

	"github.com/launix-de/raftlog/internal/asyncwriter"
	"github.com/launix-de/raftlog/internal/config"
	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/logging"
	"github.com/launix-de/raftlog/internal/models"
	"github.com/launix-de/raftlog/internal/replay"
)

func newInspectCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "inspect",
		Short:         "Replay the data directory, then open a REPL to browse aggregates/keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(root)
		},
	}
}

// aggregateRow orders the inspect REPL's "aggregates" listing by entity
// count, descending, using a btree.BTreeG instead of sort.Slice so the
// ordering structure can be re-queried (largest-N, range-by-count) without
// a second full pass.
type aggregateRow struct {
	name string
	len  int
}

func aggregateRowLess(a, b aggregateRow) bool {
	if a.len != b.len {
		return a.len > b.len
	}
	return a.name < b.name
}

func runInspect(root *RootOptions) error {
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

	res, err := replay.Run(eng, replay.Options{Registry: models.NewRegistry(), Logger: logger})
	if err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}
	fmt.Printf("loaded %d aggregate(s), %d event(s) applied\n", res.AggregatesLoaded, res.EventsApplied)

	l, err := readline.NewEx(&readline.Config{
		Prompt:            "raftlogd> ",
		HistoryFile:       ".raftlogd-inspect-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "open readline", err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			return WrapExitError(ExitCommandError, "readline", err)
		}
		if runInspectCommand(eng, strings.TrimSpace(line)) {
			break
		}
	}
	return nil
}

// runInspectCommand executes one REPL line, returning true if the REPL
// should exit.
func runInspectCommand(eng *engine.Engine, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "help":
		fmt.Println("commands: aggregates | get <aggregate> <id> | version | corruption | quit")
	case "aggregates":
		tree := btree.NewG(32, aggregateRowLess)
		eng.WithState(func(s *engine.State) {
			for name, col := range s.Aggregates {
				tree.ReplaceOrInsert(aggregateRow{name: name, len: col.Len()})
			}
		})
		tree.Ascend(func(row aggregateRow) bool {
			fmt.Printf("%-30s %d entities\n", row.name, row.len)
			return true
		})
	case "get":
		if len(fields) != 3 {
			fmt.Println("usage: get <aggregate> <id>")
			return false
		}
		eng.ReadState(fields[1], func(c *engine.Collection) {
			v, ok := c.Get(fields[2])
			if !ok {
				fmt.Println("not found")
				return
			}
			fmt.Println(string(v))
		})
	case "version":
		eng.WithState(func(s *engine.State) {
			fmt.Println(s.Version)
		})
	case "corruption":
		fmt.Println(eng.CorruptionDetected())
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q, try \"help\"\n", fields[0])
	}
	return false
}
