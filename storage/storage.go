// Package storage defines the Manager contract the Query controller
// and its pipelines consume for all I/O. The core never talks to a
// filesystem or object store directly; it only ever calls through a
// Manager, the way sneller's blockfmt package only ever talks to an
// InputFS/UploadFS (ion/blockfmt/fs.go) and never touches os/s3
// directly outside of the concrete FS implementations.
package storage

import "context"

// Manager is the storage-manager contract consumed by Query. A
// concrete implementation owns the thread pool, fragment creation
// locks, and VFS; package storage/localfs supplies one backed by the
// local filesystem.
type Manager interface {
	// Read returns nbytes bytes from uri starting at offset.
	Read(ctx context.Context, uri string, offset, nbytes int64) ([]byte, error)
	// Write appends data to uri. Writes within a single fragment
	// build are append-only: a fragment writer only ever calls
	// Write with monotonically increasing total size.
	Write(ctx context.Context, uri string, data []byte) error
	// Move atomically renames src to dst. This is the publication
	// point for a new fragment: src is the dot-prefixed in-progress
	// name, dst is the published name.
	Move(ctx context.Context, src, dst string) error
	// Remove recursively deletes uri. Used for write rollback
	// (Query.ClearFragments).
	Remove(ctx context.Context, uri string) error
	// SubmitAsync submits task to the manager's thread pool and
	// returns immediately; the submitting goroutine does not block.
	SubmitAsync(task func())
}

// FragmentLister is implemented by storage managers that can resolve
// the fragments backing an array for reads. It is kept separate from
// Manager because write-only or test harnesses need not implement it.
type FragmentLister interface {
	// ListFragments returns the URIs of all published (non
	// dot-prefixed) fragments belonging to arrayURI, in fragment
	// creation order (fragments have a total order by creation
	// timestamp).
	ListFragments(ctx context.Context, arrayURI string) ([]string, error)
}
