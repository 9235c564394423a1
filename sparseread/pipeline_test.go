package sparseread

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/storage/localfs"
	"github.com/shubhampachori12110095/TileDB/tilecache"
)

func testSchema() *schema.Schema {
	return &schema.Schema{
		Dimensions: []schema.Dimension{
			{Name: "x", Low: 1, High: 4, TileExtent: 2},
			{Name: "y", Low: 1, High: 4, TileExtent: 2},
		},
		Attributes: []schema.Attribute{{Name: "a1", Type: schema.Int32, CellValNum: 1}},
		Sparse:     true,
		CellOrder:  schema.RowMajor,
	}
}

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func writeSparseFragment(t *testing.T, ctx context.Context, mgr *localfs.Manager, arr string, name fragment.Name, coords [][]int64, vals []int32) *fragment.Metadata {
	t.Helper()
	sch := testSchema()
	w := fragment.Create(sch, arr, name, "")
	w.SetManager(mgr)
	var values []byte
	for _, v := range vals {
		values = append(values, encodeInt32(v)...)
	}
	var mbr schema.Rectangle
	for _, c := range coords {
		mbr = mbr.Union(schema.RectFromPoint(c))
	}
	if err := w.WriteTile(ctx, fragment.TilePayload{
		TileCoord: sch.TileIndex(coords[0]),
		MBR:       mbr,
		CellCount: int64(len(coords)),
		Coords:    schema.EncodeCoords(coords),
		Attrs:     []fragment.AttrPayload{{Values: values}},
	}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}
	meta, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return meta
}

// TestComputeMostRecentFragmentWins checks that when two fragments
// both define the same coordinate, the one with the larger fragment
// index (the later one passed to Compute, i.e. the more recently
// created fragment) survives dedup.
func TestComputeMostRecentFragmentWins(t *testing.T) {
	ctx := context.Background()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	sch := testSchema()
	older := writeSparseFragment(t, ctx, mgr, "arr", fragment.NewName(1, 1, fragment.NextSeq()),
		[][]int64{{1, 1}}, []int32{100})
	newer := writeSparseFragment(t, ctx, mgr, "arr", fragment.NewName(1, 2, fragment.NextSeq()),
		[][]int64{{1, 1}}, []int32{900})

	cache := tilecache.New(mgr)
	plan, err := Compute(ctx, cache, sch, sch.Domain(), []*fragment.Metadata{older, newer}, Layout{Global: true})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(plan.Ranges) != 1 {
		t.Fatalf("expected one surviving cell, got %d ranges: %+v", len(plan.Ranges), plan.Ranges)
	}
	dst := make([]byte, 4)
	written, overflow, err := AttrOut(ctx, cache, plan, []*fragment.Metadata{older, newer}, "a1", 4, 0, -1, dst)
	if err != nil {
		t.Fatalf("AttrOut: %v", err)
	}
	if overflow || written != 1 {
		t.Fatalf("written=%d overflow=%v, want 1/false", written, overflow)
	}
	if got := int32(binary.LittleEndian.Uint32(dst)); got != 900 {
		t.Fatalf("got %d, want 900 (newer fragment should win)", got)
	}
}

// TestComputeCoalescesConsecutivePositionsIntoOneRange checks that
// surviving coordinates that are consecutive within the same tile
// collapse into a single CellRange.
func TestComputeCoalescesConsecutivePositionsIntoOneRange(t *testing.T) {
	ctx := context.Background()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	sch := testSchema()
	f := writeSparseFragment(t, ctx, mgr, "arr", fragment.NewName(1, 1, fragment.NextSeq()),
		[][]int64{{1, 1}, {1, 2}, {2, 1}, {2, 2}}, []int32{1, 2, 3, 4})

	cache := tilecache.New(mgr)
	plan, err := Compute(ctx, cache, sch, sch.Domain(), []*fragment.Metadata{f}, Layout{Global: true})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(plan.Ranges) != 1 {
		t.Fatalf("expected the 4 consecutive positions to coalesce into 1 range, got %d: %+v", len(plan.Ranges), plan.Ranges)
	}
	if plan.Ranges[0].Cells() != 4 {
		t.Fatalf("expected a 4-cell range, got %+v", plan.Ranges[0])
	}
}

// TestAttrOutStopsAtWholeCellsOnOverflow checks that a copy never
// partially emits a cell when the destination buffer runs out.
func TestAttrOutStopsAtWholeCellsOnOverflow(t *testing.T) {
	ctx := context.Background()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	sch := testSchema()
	f := writeSparseFragment(t, ctx, mgr, "arr", fragment.NewName(1, 1, fragment.NextSeq()),
		[][]int64{{1, 1}, {1, 2}}, []int32{11, 12})

	cache := tilecache.New(mgr)
	plan, err := Compute(ctx, cache, sch, sch.Domain(), []*fragment.Metadata{f}, Layout{Global: true})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	dst := make([]byte, 5) // not even a whole number of 4-byte cells
	written, overflow, err := AttrOut(ctx, cache, plan, []*fragment.Metadata{f}, "a1", 4, 0, -1, dst)
	if err != nil {
		t.Fatalf("AttrOut: %v", err)
	}
	if !overflow || written != 1 {
		t.Fatalf("written=%d overflow=%v, want 1/true", written, overflow)
	}
}
