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

// Package logging wires up the process-wide structured logger.
//
// The teacher prints diagnostics with bare fmt.Print/fmt.Println throughout
// scm and storage, and no logging library appears anywhere across the
// retrieved pack — this is the one ambient concern with no ecosystem
// grounding to follow, so it is built on log/slog, the standard library's
// own structured-logging facility and the idiomatic modern-Go default when
// nothing in a corpus picks a third-party logger (see DESIGN.md).
package logging

import (
	"log/slog"
	"os"

	"github.com/dc0d/onexit"
)

// Options configures the process logger.
type Options struct {
	JSON    bool
	Level   slog.Level
	NodeID  string
	Verbose bool // teacher's Settings.Trace equivalent: forces Debug level
}

// New builds a *slog.Logger writing to os.Stderr with node_id attached to
// every record, installs it as the slog default, and registers a final
// "shutting down" record at process exit via onexit, the same hook the
// teacher uses to close its trace file.
func New(opts Options) *slog.Logger {
	level := opts.Level
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.NodeID != "" {
		logger = logger.With("node_id", opts.NodeID)
	}
	slog.SetDefault(logger)
	onexit.Register(func() { logger.Info("shutting down") })
	return logger
}
