package tilecache

import (
	"context"
	"testing"

	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/storage/localfs"
)

func TestReadAttrFixedSizeRoundTripsThroughCompression(t *testing.T) {
	ctx := context.Background()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	sch := &schema.Schema{
		Dimensions: []schema.Dimension{{Name: "x", Low: 1, High: 2, TileExtent: 2}},
		Attributes: []schema.Attribute{{Name: "a1", Type: schema.Int32, CellValNum: 1}},
		CellOrder:  schema.RowMajor,
	}
	w := fragment.Create(sch, "arr", fragment.NewName(1, 1, fragment.NextSeq()), "zstd")
	w.SetManager(mgr)
	values := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	if err := w.WriteTile(ctx, fragment.TilePayload{
		TileCoord: []int64{0},
		MBR:       schema.Rectangle{Low: []int64{1}, High: []int64{2}},
		CellCount: 2,
		Attrs:     []fragment.AttrPayload{{Values: values}},
	}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}
	meta, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	cache := New(mgr)
	pair, err := cache.ReadAttr(ctx, meta, "a1", 0)
	if err != nil {
		t.Fatalf("ReadAttr: %v", err)
	}
	if pair.Offsets != nil {
		t.Fatal("a fixed-size attribute must not produce an Offsets tile")
	}
	if string(pair.Values.Bytes()) != string(values) {
		t.Fatalf("got %v, want %v", pair.Values.Bytes(), values)
	}
}

func TestReadAttrVariableSizeReturnsOffsetsAndValues(t *testing.T) {
	ctx := context.Background()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	sch := &schema.Schema{
		Dimensions: []schema.Dimension{{Name: "x", Low: 1, High: 2, TileExtent: 2}},
		Attributes: []schema.Attribute{{Name: "s", Type: schema.Char, CellValNum: schema.VarNum}},
		CellOrder:  schema.RowMajor,
	}
	w := fragment.Create(sch, "arr", fragment.NewName(1, 1, fragment.NextSeq()), "")
	w.SetManager(mgr)
	vals := []byte("hiworld")
	offs := []byte{0, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0} // two uint64 offsets: 0, 2
	if err := w.WriteTile(ctx, fragment.TilePayload{
		TileCoord: []int64{0},
		MBR:       schema.Rectangle{Low: []int64{1}, High: []int64{2}},
		CellCount: 2,
		Attrs:     []fragment.AttrPayload{{Values: vals, Offsets: offs}},
	}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}
	meta, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	cache := New(mgr)
	pair, err := cache.ReadAttr(ctx, meta, "s", 0)
	if err != nil {
		t.Fatalf("ReadAttr: %v", err)
	}
	if pair.Offsets == nil {
		t.Fatal("a variable-size attribute must produce an Offsets tile")
	}
	if string(pair.Values.Bytes()) != string(vals) {
		t.Fatalf("values = %v, want %v", pair.Values.Bytes(), vals)
	}
	if string(pair.Offsets.Bytes()) != string(offs) {
		t.Fatalf("offsets = %v, want %v", pair.Offsets.Bytes(), offs)
	}
}

func TestReadAttrUnknownAttributeErrors(t *testing.T) {
	ctx := context.Background()
	mgr, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	sch := &schema.Schema{
		Dimensions: []schema.Dimension{{Name: "x", Low: 1, High: 2, TileExtent: 2}},
		Attributes: []schema.Attribute{{Name: "a1", Type: schema.Int32, CellValNum: 1}},
		CellOrder:  schema.RowMajor,
	}
	w := fragment.Create(sch, "arr", fragment.NewName(1, 1, fragment.NextSeq()), "")
	w.SetManager(mgr)
	if err := w.WriteTile(ctx, fragment.TilePayload{
		TileCoord: []int64{0},
		MBR:       schema.Rectangle{Low: []int64{1}, High: []int64{2}},
		CellCount: 2,
		Attrs:     []fragment.AttrPayload{{Values: []byte{0, 0, 0, 0, 0, 0, 0, 0}}},
	}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}
	meta, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	cache := New(mgr)
	if _, err := cache.ReadAttr(ctx, meta, "nope", 0); err == nil {
		t.Fatal("expected an error for an unknown attribute")
	}
}

func TestTileReleaseBelowZeroIsAnError(t *testing.T) {
	tile := &Tile{data: []byte("x"), refs: 1}
	if err := tile.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := tile.Release(); err == nil {
		t.Fatal("expected an error releasing a tile more times than retained")
	}
}

func TestTileRetainAllowsMultipleReleases(t *testing.T) {
	tile := &Tile{data: []byte("x"), refs: 1}
	tile.Retain()
	if err := tile.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := tile.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}
