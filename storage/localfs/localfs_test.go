package localfs

import (
	"context"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := mgr.Write(ctx, "a/b.tdb", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mgr.Write(ctx, "a/b.tdb", []byte(" world")); err != nil {
		t.Fatalf("Write (append): %v", err)
	}
	got, err := mgr.Read(ctx, "a/b.tdb", 0, 1<<20)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
	got, err = mgr.Read(ctx, "a/b.tdb", 6, 5)
	if err != nil {
		t.Fatalf("Read offset: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("got %q, want %q", got, "world")
	}
}

func TestMoveIsAtomicPublication(t *testing.T) {
	ctx := context.Background()
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := mgr.Write(ctx, "arr/.__1_1_1_abcd1234/x.tdb", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mgr.Move(ctx, "arr/.__1_1_1_abcd1234", "arr/__1_1_1_abcd1234"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	uris, err := mgr.ListFragments(ctx, "arr")
	if err != nil {
		t.Fatalf("ListFragments: %v", err)
	}
	if len(uris) != 1 {
		t.Fatalf("expected exactly one published fragment, got %v", uris)
	}
}

func TestListFragmentsIgnoresDotPrefixed(t *testing.T) {
	ctx := context.Background()
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := mgr.Write(ctx, "arr/.__1_1_1_abcd1234/x.tdb", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	uris, err := mgr.ListFragments(ctx, "arr")
	if err != nil {
		t.Fatalf("ListFragments: %v", err)
	}
	if len(uris) != 0 {
		t.Fatalf("expected in-progress fragment to be invisible, got %v", uris)
	}
}

func TestRemoveIsIdempotentOnMissingPath(t *testing.T) {
	ctx := context.Background()
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := mgr.Remove(ctx, "does/not/exist"); err != nil {
		t.Fatalf("Remove on a missing path should not error, got: %v", err)
	}
}

func TestSubmitAsyncRunsTask(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan struct{})
	mgr.SubmitAsync(func() { close(done) })
	<-done
}
