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

package filestore

import (
	"os"
	"sync"
	"time"
)

// BatchPolicy is the batching/fsync knob set of the events.raftlog writer
// (spec §4.1 "Batching policy"). The dedup.raftids writer in internal/dedup
// is configured by its own dedup.Policy.
type BatchPolicy struct {
	MaxBatchSize  int           // queued-line count that forces a flush
	FlushInterval time.Duration // wall-clock flusher cadence
	FsyncOnAppend bool          // durability toggle independent of batching
}

// DefaultBatchPolicy mirrors the env defaults documented in spec §6.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{
		MaxBatchSize:  200,
		FlushInterval: 100 * time.Millisecond,
		FsyncOnAppend: false,
	}
}

// RotateFunc is consulted before each buffered line is written. It receives
// the current file size and the size of the line about to be written,
// rotates if necessary, and reports whether it rotated (the writer then
// resets its tracked size to 0). A writer that never rotates passes nil.
type RotateFunc func(currentSize int64, nextLineLen int) (rotated bool)

// batchWriter appends newline-delimited lines to a single file under a
// batching+fsync policy. It owns the file exclusively: all access goes
// through its Append/Flush/Close methods (spec §5 "FileStorage: owned
// exclusively by its AsyncWriter task" — here, by whichever single-writer
// calls it).
type batchWriter struct {
	mu       sync.Mutex
	f        *os.File
	size     int64
	pending  [][]byte
	policy   BatchPolicy
	rotate   RotateFunc
	poisoned error

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newBatchWriter(f *os.File, size int64, policy BatchPolicy, rotate RotateFunc) *batchWriter {
	w := &batchWriter{
		f:      f,
		size:   size,
		policy: policy,
		rotate: rotate,
		stopCh: make(chan struct{}),
	}
	if policy.FlushInterval > 0 {
		w.wg.Add(1)
		go w.flushLoop()
	}
	return w
}

func (w *batchWriter) flushLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.policy.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.Flush()
		case <-w.stopCh:
			return
		}
	}
}

// Append buffers a line (already newline-terminated) for the next flush,
// forcing one immediately when the batch reaches MaxBatchSize.
func (w *batchWriter) Append(line []byte) error {
	w.mu.Lock()
	if w.poisoned != nil {
		err := w.poisoned
		w.mu.Unlock()
		return err
	}
	w.pending = append(w.pending, line)
	full := w.policy.MaxBatchSize > 0 && len(w.pending) >= w.policy.MaxBatchSize
	w.mu.Unlock()
	if full {
		return w.Flush()
	}
	return nil
}

// Flush writes all buffered lines to the file and, if configured,
// fsyncs. Rotation is evaluated per line so a single oversized batch can
// still rotate mid-flush.
func (w *batchWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned != nil {
		return w.poisoned
	}
	if len(w.pending) == 0 {
		return nil
	}
	for _, line := range w.pending {
		if w.rotate != nil && w.rotate(w.size, len(line)) {
			w.size = 0
		}
		n, err := w.f.Write(line)
		if err != nil {
			w.poisoned = err
			return err
		}
		w.size += int64(n)
	}
	w.pending = w.pending[:0]
	if w.policy.FsyncOnAppend {
		if err := w.f.Sync(); err != nil {
			w.poisoned = err
			return err
		}
	}
	return nil
}

// Sync forces an fsync regardless of the FsyncOnAppend policy.
func (w *batchWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned != nil {
		return w.poisoned
	}
	return w.f.Sync()
}

// SwapFile installs a new file handle after a rotation, resetting size to 0.
func (w *batchWriter) SwapFile(f *os.File) {
	w.mu.Lock()
	w.f = f
	w.size = 0
	w.mu.Unlock()
}

// Size returns the current tracked file size.
func (w *batchWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Poisoned reports the sticky I/O error, if any.
func (w *batchWriter) Poisoned() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.poisoned
}

// Close stops the flush loop, flushes remaining lines, and closes the file.
func (w *batchWriter) Close() error {
	close(w.stopCh)
	w.wg.Wait()
	err := w.Flush()
	w.mu.Lock()
	cerr := w.f.Close()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	return cerr
}
