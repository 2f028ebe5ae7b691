//go:build ceph

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

import (
	"fmt"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig describes a RADOS pool to store the snapshot object in.
// Generalizes the teacher's storage/persistence-ceph.go CephFactory.
type CephConfig struct {
	ClusterName string
	UserName    string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephBackend stores the snapshot as a single RADOS object.
type CephBackend struct {
	cfg   CephConfig
	conn  *rados.Conn
	ioctx *rados.IOContext
}

// NewCephBackend connects to the configured cluster and pool immediately,
// matching the teacher's eager-connect style for storage backends that are
// expensive to reopen per call.
func NewCephBackend(cfg CephConfig) (*CephBackend, error) {
	conn, err := rados.NewConnWithUser(cfg.UserName)
	if err != nil {
		return nil, fmt.Errorf("snapshot: ceph: new conn: %w", err)
	}
	if err := conn.ReadConfigFile(cfg.ConfFile); err != nil {
		return nil, fmt.Errorf("snapshot: ceph: read config: %w", err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("snapshot: ceph: connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("snapshot: ceph: open pool %s: %w", cfg.Pool, err)
	}
	return &CephBackend{cfg: cfg, conn: conn, ioctx: ioctx}, nil
}

func (b *CephBackend) object() string {
	if b.cfg.Prefix == "" {
		return fileName
	}
	return b.cfg.Prefix + "/" + fileName
}

func (b *CephBackend) Save(data []byte) error {
	if err := b.ioctx.WriteFull(b.object(), data); err != nil {
		return fmt.Errorf("snapshot: ceph write: %w", err)
	}
	return nil
}

func (b *CephBackend) Load() ([]byte, bool, error) {
	stat, err := b.ioctx.Stat(b.object())
	if err == rados.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: ceph stat: %w", err)
	}
	buf := make([]byte, stat.Size)
	n, err := b.ioctx.Read(b.object(), buf, 0)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: ceph read: %w", err)
	}
	return buf[:n], true, nil
}

// Close releases the RADOS connection.
func (b *CephBackend) Close() {
	b.ioctx.Destroy()
	b.conn.Shutdown()
}
