package query

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/storage/localfs"
)

// These tests exercise a 2-D int64 domain [1..4]x[1..4] with tile
// extent 2 and a row-major global order end to end, driven entirely
// through the Query controller against a real storage.Manager
// (storage/localfs), the way a caller of this package would use it.

func denseSchema() *schema.Schema {
	return &schema.Schema{
		Dimensions: []schema.Dimension{
			{Name: "x", Low: 1, High: 4, TileExtent: 2},
			{Name: "y", Low: 1, High: 4, TileExtent: 2},
		},
		Attributes: []schema.Attribute{{Name: "a1", Type: schema.Int32, CellValNum: 1}},
		CellOrder:  schema.RowMajor,
	}
}

func sparseSchema() *schema.Schema {
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

func encodeInt32s(vs []int32) []byte {
	buf := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

func decodeInt32s(buf []byte) []int32 {
	out := make([]int32, len(buf)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func newManager(t *testing.T) *localfs.Manager {
	t.Helper()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return mgr
}

// S1 - dense write/read: write a1 = [1..16] row-major over the full
// domain, read [2..3]x[2..3] row-major and expect [6,7,10,11].
func TestS1DenseWriteRead(t *testing.T) {
	ctx := context.Background()
	sch := denseSchema()
	mgr := newManager(t)
	const array = "arr"

	vals := make([]int32, 16)
	for i := range vals {
		vals[i] = int32(i + 1)
	}
	w := NewWrite(sch, mgr, array, "")
	w.SetLayout(RowMajor)
	w.SetBuffer("a1", &Buffer{Values: encodeInt32s(vals)})
	if err := w.Init(ctx); err != nil {
		t.Fatalf("write Init: %v", err)
	}
	if err := w.Submit(ctx); err != nil {
		t.Fatalf("write Submit: %v", err)
	}
	if err := w.Finalize(ctx); err != nil {
		t.Fatalf("write Finalize: %v", err)
	}

	r := NewRead(sch, mgr, mgr, array)
	r.SetLayout(RowMajor)
	r.SetSubarray(schema.Rectangle{Low: []int64{2, 2}, High: []int64{3, 3}})
	out := make([]byte, 4*4)
	r.SetBuffer("a1", &Buffer{Values: out})
	if err := r.Init(ctx); err != nil {
		t.Fatalf("read Init: %v", err)
	}
	if err := r.Submit(ctx); err != nil {
		t.Fatalf("read Submit: %v", err)
	}
	if r.Status() != Completed {
		t.Fatalf("expected Completed, got %v", r.Status())
	}
	got := decodeInt32s(out)
	want := []int32{6, 7, 10, 11}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// S2 - sparse unordered write then read: coords in arbitrary order,
// read back the full domain in global order.
func TestS2SparseUnorderedWriteRead(t *testing.T) {
	ctx := context.Background()
	sch := sparseSchema()
	mgr := newManager(t)
	const array = "arr"

	coords := [][]int64{{4, 2}, {3, 4}, {3, 3}, {3, 1}}
	vals := []int32{211, 213, 212, 208}

	w := NewWrite(sch, mgr, array, "")
	w.SetLayout(Unordered)
	w.SetBuffer(schema.CoordsName, &Buffer{Values: schema.EncodeCoords(coords)})
	w.SetBuffer("a1", &Buffer{Values: encodeInt32s(vals)})
	if err := w.Init(ctx); err != nil {
		t.Fatalf("write Init: %v", err)
	}
	if err := w.Submit(ctx); err != nil {
		t.Fatalf("write Submit: %v", err)
	}
	if err := w.Finalize(ctx); err != nil {
		t.Fatalf("write Finalize: %v", err)
	}

	r := NewRead(sch, mgr, mgr, array)
	r.SetLayout(GlobalOrder)
	coordsOut := make([]byte, 4*2*8)
	a1Out := make([]byte, 4*4)
	r.SetBuffer(schema.CoordsName, &Buffer{Values: coordsOut})
	r.SetBuffer("a1", &Buffer{Values: a1Out})
	if err := r.Init(ctx); err != nil {
		t.Fatalf("read Init: %v", err)
	}
	if err := r.Submit(ctx); err != nil {
		t.Fatalf("read Submit: %v", err)
	}

	gotCoords := schema.DecodeCoords(coordsOut, 2)
	wantCoords := [][]int64{{3, 1}, {3, 3}, {3, 4}, {4, 2}}
	for i := range wantCoords {
		if gotCoords[i][0] != wantCoords[i][0] || gotCoords[i][1] != wantCoords[i][1] {
			t.Fatalf("coords[%d] = %v, want %v (full: %v)", i, gotCoords[i], wantCoords[i], gotCoords)
		}
	}
	gotVals := decodeInt32s(a1Out)
	wantVals := []int32{208, 212, 213, 211}
	for i := range wantVals {
		if gotVals[i] != wantVals[i] {
			t.Fatalf("a1 = %v, want %v", gotVals, wantVals)
		}
	}
}

// S3 - overwriting fragment: a later sparse fragment overwrites one
// cell from an earlier one; a read of that cell returns the newer
// value (most-recent-wins).
func TestS3OverwritingFragment(t *testing.T) {
	ctx := context.Background()
	sch := sparseSchema()
	mgr := newManager(t)
	const array = "arr"

	var coords [][]int64
	var vals []int32
	for x := int64(1); x <= 4; x++ {
		for y := int64(1); y <= 4; y++ {
			coords = append(coords, []int64{x, y})
			vals = append(vals, int32((x-1)*4+(y-1)+1))
		}
	}
	w1 := NewWrite(sch, mgr, array, "")
	w1.SetLayout(Unordered)
	w1.SetBuffer(schema.CoordsName, &Buffer{Values: schema.EncodeCoords(coords)})
	w1.SetBuffer("a1", &Buffer{Values: encodeInt32s(vals)})
	mustInitSubmitFinalize(t, ctx, w1)

	w2 := NewWrite(sch, mgr, array, "")
	w2.SetLayout(Unordered)
	w2.SetBuffer(schema.CoordsName, &Buffer{Values: schema.EncodeCoords([][]int64{{2, 2}})})
	w2.SetBuffer("a1", &Buffer{Values: encodeInt32s([]int32{999})})
	mustInitSubmitFinalize(t, ctx, w2)

	r := NewRead(sch, mgr, mgr, array)
	r.SetLayout(GlobalOrder)
	r.SetSubarray(schema.Rectangle{Low: []int64{2, 2}, High: []int64{2, 2}})
	a1Out := make([]byte, 4)
	r.SetBuffer("a1", &Buffer{Values: a1Out})
	if err := r.Init(ctx); err != nil {
		t.Fatalf("read Init: %v", err)
	}
	if err := r.Submit(ctx); err != nil {
		t.Fatalf("read Submit: %v", err)
	}
	if got := decodeInt32s(a1Out)[0]; got != 999 {
		t.Fatalf("got a1=%d, want 999 (most-recent-wins)", got)
	}
}

// S4 - buffer overflow: a buffer too small to hold every matching
// cell drives the Query to INCOMPLETE, and a resubmission with the
// same buffer drains the remainder.
func TestS4BufferOverflow(t *testing.T) {
	ctx := context.Background()
	sch := denseSchema()
	mgr := newManager(t)
	const array = "arr"

	vals := make([]int32, 16)
	for i := range vals {
		vals[i] = int32(i + 1)
	}
	w := NewWrite(sch, mgr, array, "")
	w.SetLayout(RowMajor)
	w.SetBuffer("a1", &Buffer{Values: encodeInt32s(vals)})
	mustInitSubmitFinalize(t, ctx, w)

	r := NewRead(sch, mgr, mgr, array)
	r.SetLayout(GlobalOrder)
	r.SetSubarray(schema.Rectangle{Low: []int64{2, 2}, High: []int64{3, 3}})
	buf := make([]byte, 8) // room for 2 of the 4 matching int32 cells
	r.SetBuffer("a1", &Buffer{Values: buf})
	if err := r.Init(ctx); err != nil {
		t.Fatalf("read Init: %v", err)
	}

	if err := r.Submit(ctx); err == nil {
		t.Fatal("expected a BufferOverflow error on the first submission")
	}
	if r.Status() != Incomplete {
		t.Fatalf("expected Incomplete, got %v", r.Status())
	}
	if !r.Overflow("a1") {
		t.Fatal("expected Overflow(a1) to be true")
	}
	got := decodeInt32s(buf)
	if got[0] != 6 || got[1] != 7 {
		t.Fatalf("first submission: got %v, want [6 7]", got)
	}

	if err := r.Submit(ctx); err != nil {
		t.Fatalf("second read Submit: %v", err)
	}
	if r.Status() != Completed {
		t.Fatalf("expected Completed after draining, got %v", r.Status())
	}
	if r.Overflow("a1") {
		t.Fatal("expected Overflow(a1) to be false once complete")
	}
	got = decodeInt32s(buf)
	if got[0] != 10 || got[1] != 11 {
		t.Fatalf("second submission: got %v, want [10 11]", got)
	}
}

// S5 - variable-length attribute: a sparse write/read round trip
// through an offsets+values buffer pair.
func TestS5VariableLengthAttribute(t *testing.T) {
	ctx := context.Background()
	sch := &schema.Schema{
		Dimensions: []schema.Dimension{
			{Name: "x", Low: 1, High: 4, TileExtent: 2},
			{Name: "y", Low: 1, High: 4, TileExtent: 2},
		},
		Attributes: []schema.Attribute{{Name: "a2", Type: schema.Char, CellValNum: schema.VarNum}},
		Sparse:     true,
		CellOrder:  schema.RowMajor,
	}
	mgr := newManager(t)
	const array = "arr"

	coords := [][]int64{{1, 1}, {1, 2}, {2, 1}, {2, 2}}
	values := []byte("wwwwyyxu")
	offsets := make([]byte, 4*8)
	for i, off := range []uint64{0, 2, 4, 6} {
		binary.LittleEndian.PutUint64(offsets[i*8:], off)
	}

	w := NewWrite(sch, mgr, array, "")
	w.SetLayout(Unordered)
	w.SetBuffer(schema.CoordsName, &Buffer{Values: schema.EncodeCoords(coords)})
	w.SetBuffer("a2", &Buffer{Offsets: offsets, Values: values})
	mustInitSubmitFinalize(t, ctx, w)

	r := NewRead(sch, mgr, mgr, array)
	r.SetLayout(GlobalOrder)
	r.SetSubarray(schema.Rectangle{Low: []int64{1, 1}, High: []int64{2, 2}})
	offOut := make([]byte, 4*8)
	valOut := make([]byte, 8)
	r.SetBuffer("a2", &Buffer{Offsets: offOut, Values: valOut})
	if err := r.Init(ctx); err != nil {
		t.Fatalf("read Init: %v", err)
	}
	if err := r.Submit(ctx); err != nil {
		t.Fatalf("read Submit: %v", err)
	}
	if string(valOut) != string(values) {
		t.Fatalf("values = %q, want %q", valOut, values)
	}
	for i := range []uint64{0, 2, 4, 6} {
		got := binary.LittleEndian.Uint64(offOut[i*8:])
		want := binary.LittleEndian.Uint64(offsets[i*8:])
		if got != want {
			t.Fatalf("offset[%d] = %d, want %d", i, got, want)
		}
	}
}

// S6 - rollback: a write that never reaches Finalize leaves no
// visible (published or in-progress) fragment directory once
// ClearFragments runs.
func TestS6Rollback(t *testing.T) {
	ctx := context.Background()
	sch := denseSchema()
	mgr := newManager(t)
	const array = "arr"

	vals := make([]int32, 16)
	for i := range vals {
		vals[i] = int32(i + 1)
	}
	w := NewWrite(sch, mgr, array, "")
	w.SetLayout(RowMajor)
	w.SetBuffer("a1", &Buffer{Values: encodeInt32s(vals)})
	if err := w.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := w.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(mgr.Root, array))
	if err != nil {
		t.Fatalf("ReadDir before rollback: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one in-progress fragment directory, got %d", len(entries))
	}

	if err := w.ClearFragments(ctx); err != nil {
		t.Fatalf("ClearFragments: %v", err)
	}

	entries, err = os.ReadDir(filepath.Join(mgr.Root, array))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir after rollback: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no fragment directories (dot-prefixed included) after rollback, got %v", entries)
	}
}

func mustInitSubmitFinalize(t *testing.T, ctx context.Context, q *Query) {
	t.Helper()
	if err := q.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := q.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := q.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}
