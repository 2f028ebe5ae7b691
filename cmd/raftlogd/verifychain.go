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
	"github.com/spf13/cobra"
)

// newVerifyChainCommand is "replay --verify-chain" under a name an operator
// would reach for directly when the only question is "is the hash chain
// intact", per spec §4.1/§9's hash-chain integrity check.
func newVerifyChainCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "verify-chain",
		Short:         "Replay every aggregate's log verifying hash-chain integrity",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplayCommand(root, cmd, true)
		},
	}
}
