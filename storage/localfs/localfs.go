// Package localfs implements storage.Manager over the local
// filesystem. It plays the same role for this repository's tests
// that blockfmt.DirFS (ion/blockfmt/fs.go) plays for sneller: a
// concrete, non-mock backing store good enough to exercise real
// atomic-rename and append semantics without talking to an object
// store.
package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Manager is a storage.Manager rooted at a directory on the local
// filesystem.
type Manager struct {
	Root string
	// Log, if non-nil, receives a line per operation -- mirrors
	// blockfmt.DirFS.Log.
	Log func(format string, args ...any)

	poolOnce sync.Once
	tasks    chan func()
}

// New creates a Manager rooted at root, creating the directory if
// necessary.
func New(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("localfs.New: %w", err)
	}
	return &Manager{Root: root}, nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.Log != nil {
		m.Log(format, args...)
	}
}

func (m *Manager) path(uri string) string {
	return filepath.Join(m.Root, filepath.FromSlash(uri))
}

// Read implements storage.Manager. If nbytes would read past the end
// of the file (as when a caller probes for a file of unknown size,
// e.g. fragment.Load reading __fragment_metadata.tdb) the read is
// clamped to the remaining bytes instead of failing.
func (m *Manager) Read(ctx context.Context, uri string, offset, nbytes int64) ([]byte, error) {
	m.logf("Read %s [%d:%d]", uri, offset, offset+nbytes)
	f, err := os.Open(m.path(uri))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	want := nbytes
	if remaining := info.Size() - offset; want > remaining {
		want = remaining
	}
	if want < 0 {
		want = 0
	}
	buf := make([]byte, want)
	if want > 0 {
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, fmt.Errorf("localfs.Read %s: %w", uri, err)
		}
	}
	return buf, nil
}

// Write implements storage.Manager: it appends data to uri, creating
// the file (and its parent directories) if necessary.
func (m *Manager) Write(ctx context.Context, uri string, data []byte) error {
	m.logf("Write %s (+%d bytes)", uri, len(data))
	p := m.path(uri)
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// Move implements storage.Manager using a plain os.Rename, which is
// atomic on the same filesystem -- the same assumption DirFS.WriteFile
// makes for its temp-file-then-rename publication (ion/blockfmt/fs.go).
func (m *Manager) Move(ctx context.Context, src, dst string) error {
	m.logf("Move %s -> %s", src, dst)
	dstPath := m.path(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0750); err != nil {
		return err
	}
	return os.Rename(m.path(src), dstPath)
}

// Remove implements storage.Manager.
func (m *Manager) Remove(ctx context.Context, uri string) error {
	m.logf("Remove %s", uri)
	err := os.RemoveAll(m.path(uri))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SubmitAsync implements storage.Manager with a small fixed-size
// goroutine pool, grounded in plan.mkpool/pool.do (plan/exec.go)
// rather than an ad-hoc "go func()" per task, so that concurrent
// async Query submissions are bounded by GOMAXPROCS instead of
// growing unboundedly.
func (m *Manager) SubmitAsync(task func()) {
	m.poolOnce.Do(func() {
		n := runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
		m.tasks = make(chan func(), 64)
		for i := 0; i < n; i++ {
			go func() {
				for t := range m.tasks {
					t()
				}
			}()
		}
	})
	m.tasks <- task
}

// ListFragments implements storage.FragmentLister: it returns the
// published (non dot-prefixed) immediate subdirectories of arrayURI
// in creation order, by the sequence number embedded in each
// fragment.Name ("__<thread-id>_<ms>_<seq>_<uuid8>"). Names are
// sorted lexically first, so names without a parseable sequence
// number keep lexical order among themselves.
func (m *Manager) ListFragments(ctx context.Context, arrayURI string) ([]string, error) {
	dir := m.path(arrayURI)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, strings.TrimSuffix(arrayURI, "/")+"/"+e.Name())
	}
	sort.Strings(out)
	seqOf := func(uri string) uint64 {
		base := uri[strings.LastIndex(uri, "/")+1:]
		parts := strings.SplitN(strings.TrimPrefix(base, "__"), "_", 4)
		if len(parts) < 4 {
			return 0
		}
		seq, _ := strconv.ParseUint(parts[2], 10, 64)
		return seq
	}
	sort.SliceStable(out, func(i, j int) bool { return seqOf(out[i]) < seqOf(out[j]) })
	return out, nil
}

var _ fs.StatFS = (*fsAdapter)(nil)

// fsAdapter lets Manager double as an fs.FS for diagnostic tools
// (cmd/arrayq) without exposing os.* directly outside this package.
type fsAdapter struct {
	root string
}

func (a *fsAdapter) Open(name string) (fs.File, error) {
	return os.Open(filepath.Join(a.root, filepath.FromSlash(name)))
}

func (a *fsAdapter) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(filepath.Join(a.root, filepath.FromSlash(name)))
}

// FS returns an fs.FS view of the manager's root, for read-only
// inspection tools.
func (m *Manager) FS() fs.FS { return &fsAdapter{root: m.Root} }

// DefaultLogger returns a Log function backed by the standard log
// package, the same direct use of "log" rather than a structured
// logging library that sneller's cmd/snellerd/server.go shows.
func DefaultLogger(prefix string) func(string, ...any) {
	l := log.New(log.Writer(), prefix, log.LstdFlags)
	return func(format string, args ...any) {
		l.Printf(format, args...)
	}
}
