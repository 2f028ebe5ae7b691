//go:build !ceph

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

import "fmt"

// CephConfig is a stub when Ceph support is not compiled in.
// Build with -tags=ceph to enable Ceph support.
type CephConfig struct {
	ClusterName string
	UserName    string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephBackend is a stub when Ceph support is not compiled in.
type CephBackend struct{}

// NewCephBackend always fails when Ceph support is not compiled in.
func NewCephBackend(cfg CephConfig) (*CephBackend, error) {
	return nil, fmt.Errorf("snapshot: ceph support not compiled in; build with -tags=ceph")
}

func (b *CephBackend) Save(data []byte) error      { panic("ceph support not compiled in") }
func (b *CephBackend) Load() ([]byte, bool, error) { panic("ceph support not compiled in") }
func (b *CephBackend) Close()                      {}
