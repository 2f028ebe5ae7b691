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

// Package filestore implements component B of the core: a single-shard,
// append-only log writer with batched fsync, size-based rotation, and
// optional hash-chain linking. It is grounded on the teacher's
// storage/persistence-files.go FileStorage/FileLogfile pair, generalized
// from the teacher's columnar insert/delete log lines to newline-delimited
// JSON event envelopes (spec §4.1).
package filestore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/launix-de/raftlog/internal/envelope"
)

const logFileName = "events.raftlog"

// Config controls rotation, batching, and hash-chain behavior for one
// FileStorage instance.
type Config struct {
	MaxLogFileSize   int64 // 0 disables rotation
	Batch            BatchPolicy
	HashChainEnabled bool

	// CompressRotated xz-compresses a rotated sibling once a newer
	// rotation has pushed it out of the most-recent slot, trading rotation-
	// time CPU for disk on archived shards that are read rarely if ever
	// (spec §9, "rolling upgrade / catch-up" implies old rotations are
	// cold).
	CompressRotated bool
}

// DefaultConfig returns the spec §6 documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxLogFileSize:   0,
		Batch:            DefaultBatchPolicy(),
		HashChainEnabled: false,
		CompressRotated:  false,
	}
}

// FileStorage owns exactly one events.raftlog (and its rotated siblings)
// inside a single directory (spec §4.1).
type FileStorage struct {
	dir    string
	cfg    Config
	writer *batchWriter
	chain  *envelope.Chain
}

// Open creates or reopens the log file at dir/events.raftlog. If hash
// chaining is enabled, the running digest is seeded from the last valid
// envelope already on disk.
func Open(dir string, cfg Config) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, logFileName)
	f, err := openTruncatingPartialLine(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	fs := &FileStorage{dir: dir, cfg: cfg}
	fs.writer = newBatchWriter(f, fi.Size(), cfg.Batch, fs.rotateHook)

	if cfg.HashChainEnabled {
		fs.chain = envelope.NewChain()
		if last, ok, err := fs.lastEnvelope(); err != nil {
			return nil, err
		} else if ok {
			fs.chain.Seed(last.EventHash)
		}
	}
	return fs, nil
}

// openTruncatingPartialLine opens (creating if absent) the log file, and,
// if the final line has no terminating "\n", truncates it away — a partial
// write from a crash mid-append is treated as never-written (spec §4.1
// "Failure semantics").
func openTruncatingPartialLine(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() == 0 {
		return f, nil
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, fi.Size()-1); err != nil {
		f.Close()
		return nil, err
	}
	if buf[0] == '\n' {
		if _, err := f.Seek(0, os.SEEK_END); err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}
	// Find the start of the partial final line and drop it.
	content, err := os.ReadFile(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	lastNL := strings.LastIndexByte(string(content), '\n')
	if err := f.Truncate(int64(lastNL + 1)); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (fs *FileStorage) rotateHook(currentSize int64, nextLineLen int) bool {
	if fs.cfg.MaxLogFileSize <= 0 {
		return false
	}
	if currentSize+int64(nextLineLen) <= fs.cfg.MaxLogFileSize {
		return false
	}
	if err := fs.rotate(); err != nil {
		// Surfaced to the caller via the next Append/Flush poisoning the
		// writer; rotation failure is treated like any other I/O error.
		// rotateHook runs inside Flush, which holds the writer's lock.
		fs.writer.poisoned = err
		return false
	}
	return true
}

const xzSuffix = ".xz"

// rotate shifts existing numbered siblings up by one (.1 -> .2, ...) and
// begins a fresh events.raftlog (spec §4.1 "Rotation"). A sibling pushed
// out of the most-recent slot (.1 -> .2) is xz-compressed in place when
// CompressRotated is set; ReadAllEvents still reads every sibling,
// decompressing the .xz ones.
func (fs *FileStorage) rotate() error {
	existing := fs.rotatedSiblings()
	for i := len(existing) - 1; i >= 0; i-- {
		n := existing[i]
		src, compressed := fs.rotatedSiblingPath(n)
		dstN := n + 1
		dst := fs.rotatedPath(dstN)
		if compressed {
			dst += xzSuffix
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
		if fs.cfg.CompressRotated && !compressed && dstN >= 2 {
			if err := fs.compressRotated(dst); err != nil {
				// Best-effort: leave the sibling uncompressed rather than
				// fail the rotation over it.
			}
		}
	}
	current := filepath.Join(fs.dir, logFileName)
	if err := os.Rename(current, fs.rotatedPath(1)); err != nil {
		return err
	}
	f, err := os.OpenFile(current, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return err
	}
	// rotate runs inside batchWriter.Flush, which already holds the
	// writer's lock and resets its size, so the handle is swapped directly
	// (SwapFile would lock again and deadlock).
	fs.writer.f = f
	return nil
}

// compressRotated replaces path with path+".xz", removing the uncompressed
// original once the archive is written successfully.
func (fs *FileStorage) compressRotated(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+xzSuffix, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	zw, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func (fs *FileStorage) rotatedPath(n int) string {
	return filepath.Join(fs.dir, fmt.Sprintf("%s.%d", logFileName, n))
}

// rotatedSiblingPath returns the on-disk path for rotation n, whether
// plain or already xz-compressed, and reports which.
func (fs *FileStorage) rotatedSiblingPath(n int) (path string, compressed bool) {
	plain := fs.rotatedPath(n)
	if _, err := os.Stat(plain + xzSuffix); err == nil {
		return plain + xzSuffix, true
	}
	return plain, false
}

// rotatedSiblings returns the numbered suffixes present on disk, ascending,
// whether or not a given suffix is currently xz-compressed.
func (fs *FileStorage) rotatedSiblings() []int {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil
	}
	prefix := logFileName + "."
	seen := make(map[int]bool)
	var ns []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(name, prefix)
		suffix = strings.TrimSuffix(suffix, xzSuffix)
		n, err := strconv.Atoi(suffix)
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		ns = append(ns, n)
	}
	sort.Ints(ns)
	return ns
}

// AppendEvent buffers the envelope's serialised line into the internal
// batch, attaching hash-chain fields first if enabled. No disk write is
// forced (spec §4.1).
func (fs *FileStorage) AppendEvent(env *envelope.Envelope) error {
	if fs.chain != nil {
		fs.chain.Link(env)
	}
	line, err := env.MarshalLine()
	if err != nil {
		return err
	}
	return fs.writer.Append(line)
}

// FlushBatch writes the accumulated buffer to the log and, per policy,
// fsyncs (spec §4.1).
func (fs *FileStorage) FlushBatch() error {
	return fs.writer.Flush()
}

// Sync forces an fsync of the current log file regardless of batch policy.
func (fs *FileStorage) Sync() error {
	return fs.writer.Sync()
}

// Poisoned reports the sticky I/O error, if the storage has been poisoned
// by a prior append/flush failure (spec §4.1 "Failure semantics").
func (fs *FileStorage) Poisoned() error {
	return fs.writer.Poisoned()
}

// ReadAllEvents reads the current log plus all rotated siblings in order of
// rotation age (oldest first), yielding every non-empty line.
func (fs *FileStorage) ReadAllEvents() ([][]byte, error) {
	if err := fs.writer.Flush(); err != nil {
		return nil, err
	}
	siblings := fs.rotatedSiblings()
	var lines [][]byte
	for i := len(siblings) - 1; i >= 0; i-- {
		path, compressed := fs.rotatedSiblingPath(siblings[i])
		var (
			ls  [][]byte
			err error
		)
		if compressed {
			ls, err = readLinesXZ(path)
		} else {
			ls, err = readLines(path)
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, ls...)
	}
	ls, err := readLines(filepath.Join(fs.dir, logFileName))
	if err != nil {
		return nil, err
	}
	lines = append(lines, ls...)
	return lines, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		lines = append(lines, cp)
	}
	return lines, scanner.Err()
}

// readLinesXZ is readLines for an xz-compressed rotated sibling.
func readLinesXZ(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("filestore: xz reader %s: %w", path, err)
	}
	var lines [][]byte
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		lines = append(lines, cp)
	}
	return lines, scanner.Err()
}

// lastEnvelope returns the last parseable envelope currently on disk,
// across rotated siblings and the current file, used to seed the hash
// chain cursor on reopen.
func (fs *FileStorage) lastEnvelope() (*envelope.Envelope, bool, error) {
	lines, err := fs.ReadAllEvents()
	if err != nil {
		return nil, false, err
	}
	for i := len(lines) - 1; i >= 0; i-- {
		env, err := envelope.Unmarshal(lines[i])
		if err == nil {
			return env, true, nil
		}
	}
	return nil, false, nil
}

// TruncateEvents atomically empties events.raftlog. Intended to be called
// only after a successful snapshot save whose covered prefix equals the
// current log length (spec §4.4).
func (fs *FileStorage) TruncateEvents() error {
	return fs.writer.truncateInPlace()
}

// truncateInPlace is defined on batchWriter so it can hold the lock while
// truncating, avoiding a torn write racing a concurrent Append.
func (w *batchWriter) truncateInPlace() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.poisoned != nil {
		return w.poisoned
	}
	if err := w.f.Truncate(0); err != nil {
		w.poisoned = err
		return err
	}
	if _, err := w.f.Seek(0, os.SEEK_SET); err != nil {
		w.poisoned = err
		return err
	}
	w.size = 0
	w.pending = w.pending[:0]
	return nil
}

// Close flushes and closes the underlying file handle.
func (fs *FileStorage) Close() error {
	return fs.writer.Close()
}

// Dir returns the directory this FileStorage owns.
func (fs *FileStorage) Dir() string {
	return fs.dir
}
