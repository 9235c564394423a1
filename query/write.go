package query

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/ordered"
	"github.com/shubhampachori12110095/TileDB/qerror"
	"github.com/shubhampachori12110095/TileDB/schema"
)

func (q *Query) submitWrite(ctx context.Context) error {
	if q.sch.Sparse {
		return q.submitWriteSparse(ctx)
	}
	return q.submitWriteDense(ctx)
}

// submitWriteDense implements the dense write pipeline: buffers
// arriving in ROW_MAJOR/COL_MAJOR are first transposed into
// the schema's tiled global order (package ordered), then sliced,
// tile by tile, into fragment.Writer.WriteTile calls. GLOBAL_ORDER
// buffers are already in that order and are sliced directly. The
// subarray is required (Init) to be tile-aligned, so every tile
// contributing to it is either wholly inside the subarray or absent,
// and the transposed buffer's tile-grouped runs line up exactly with
// tilesInSubarray's enumeration.
func (q *Query) submitWriteDense(ctx context.Context) error {
	cellCount := int64(-1)
	for name, buf := range q.buffers {
		ai := q.sch.AttrIndex(name)
		if ai < 0 {
			return qerror.New(qerror.SchemaMismatch, "query: unknown attribute %q", name)
		}
		attr := q.sch.Attributes[ai]
		var n int64
		if attr.Variable() {
			n = int64(len(buf.Offsets)) / 8
		} else {
			n = int64(len(buf.Values)) / int64(attr.CellSize())
		}
		if cellCount == -1 {
			cellCount = n
		} else if cellCount != n {
			return qerror.New(qerror.ConfigError, "query: attribute buffers disagree on cell count (%d vs %d)", cellCount, n)
		}
	}
	if cellCount == -1 {
		return qerror.New(qerror.ConfigError, "query: Submit: no buffers registered")
	}
	if want := q.subarrayCellCount(); cellCount != want {
		return qerror.New(qerror.ConfigError, "query: buffers hold %d cells, subarray covers %d", cellCount, want)
	}

	global := q.buffers
	if q.layout != GlobalOrder {
		st := ordered.New(q.sch, q.subarray, toCellOrder(q.layout))
		transposed := make(map[string]*Buffer, len(q.buffers))
		for name, buf := range q.buffers {
			ai := q.sch.AttrIndex(name)
			attr := q.sch.Attributes[ai]
			vals, err := st.ToGlobal(int64(attr.CellSize()), buf.Values)
			if err != nil {
				return err
			}
			transposed[name] = &Buffer{Values: vals}
		}
		global = transposed
	}

	tiles := tilesInSubarray(q.sch, q.subarray)
	cellOffset := make(map[string]int64, len(global))
	for _, tc := range tiles {
		tileRect := q.sch.TileRect(tc)
		n := rectCells(tileRect)
		payload := fragment.TilePayload{TileCoord: tc, MBR: tileRect, CellCount: n}
		for _, attr := range q.sch.Attributes {
			buf, ok := global[attr.Name]
			if !ok {
				payload.Attrs = append(payload.Attrs, fragment.AttrPayload{})
				continue
			}
			if attr.Variable() {
				start := cellOffset[attr.Name]
				values, offsets := sliceVar(buf.Offsets, buf.Values, start, n)
				payload.Attrs = append(payload.Attrs, fragment.AttrPayload{Values: values, Offsets: offsets})
			} else {
				cs := int64(attr.CellSize())
				start := cellOffset[attr.Name] * cs
				end := start + n*cs
				payload.Attrs = append(payload.Attrs, fragment.AttrPayload{Values: buf.Values[start:end]})
			}
			cellOffset[attr.Name] += n
		}
		if err := q.writer.WriteTile(ctx, payload); err != nil {
			return qerror.Wrap(qerror.IOError, err, "query: write tile %v", tc)
		}
	}
	return nil
}

// submitWriteSparse implements the sparse write pipeline: UNORDERED
// buffers are sorted into the schema's global cell order;
// GLOBAL_ORDER buffers are checked to already be in it. The sorted
// cells are grouped into runs sharing a schema tile coordinate (the
// same grouping the read side's overlap/sparseread packages assume
// every fragment respects) and each run becomes one WriteTile call.
func (q *Query) submitWriteSparse(ctx context.Context) error {
	coordsBuf, ok := q.buffers[schema.CoordsName]
	if !ok {
		return qerror.New(qerror.ConfigError, "query: sparse write requires a %s buffer", schema.CoordsName)
	}
	ndim := q.sch.NDim()
	coords := schema.DecodeCoords(coordsBuf.Values, ndim)
	n := len(coords)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	switch q.layout {
	case Unordered:
		sort.SliceStable(order, func(i, j int) bool { return q.sch.GlobalLess(coords[order[i]], coords[order[j]]) })
	case GlobalOrder:
		for i := 1; i < n; i++ {
			if q.sch.GlobalLess(coords[i], coords[i-1]) {
				return qerror.New(qerror.ConfigError, "query: coordinates are not in global order for a GLOBAL_ORDER write")
			}
		}
	default:
		return qerror.New(qerror.ConfigError, "query: sparse writes do not support ROW_MAJOR/COL_MAJOR layout")
	}

	type run struct {
		tileCoord []int64
		idx       []int
	}
	var runs []run
	for _, oi := range order {
		tc := q.sch.TileIndex(coords[oi])
		if m := len(runs); m > 0 && tileCoordEqual(runs[m-1].tileCoord, tc) {
			runs[m-1].idx = append(runs[m-1].idx, oi)
		} else {
			runs = append(runs, run{tileCoord: tc, idx: []int{oi}})
		}
	}

	for _, r := range runs {
		tileCoords := make([][]int64, len(r.idx))
		var mbr schema.Rectangle
		for i, oi := range r.idx {
			tileCoords[i] = coords[oi]
			mbr = mbr.Union(schema.RectFromPoint(coords[oi]))
		}
		payload := fragment.TilePayload{
			TileCoord: r.tileCoord,
			MBR:       mbr,
			CellCount: int64(len(r.idx)),
			Coords:    schema.EncodeCoords(tileCoords),
		}
		for _, attr := range q.sch.Attributes {
			buf, ok := q.buffers[attr.Name]
			if !ok {
				payload.Attrs = append(payload.Attrs, fragment.AttrPayload{})
				continue
			}
			if attr.Variable() {
				values, offsets := gatherVar(buf.Offsets, buf.Values, r.idx)
				payload.Attrs = append(payload.Attrs, fragment.AttrPayload{Values: values, Offsets: offsets})
			} else {
				cs := int64(attr.CellSize())
				out := make([]byte, int64(len(r.idx))*cs)
				for i, oi := range r.idx {
					copy(out[int64(i)*cs:], buf.Values[int64(oi)*cs:int64(oi+1)*cs])
				}
				payload.Attrs = append(payload.Attrs, fragment.AttrPayload{Values: out})
			}
		}
		if err := q.writer.WriteTile(ctx, payload); err != nil {
			return qerror.Wrap(qerror.IOError, err, "query: write tile %v", r.tileCoord)
		}
	}
	return nil
}

func tileCoordEqual(a, b []int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sliceVar extracts cellCount cells' worth of a variable-size
// attribute starting at cell startCell from a contiguous
// offsets/values pair, renumbering the returned offsets relative to
// the slice's own start (the same convention fragment tiles are
// stored under).
func sliceVar(offsetsAll, valuesAll []byte, startCell, cellCount int64) (values, offsets []byte) {
	n := int64(len(offsetsAll)) / 8
	lo := binary.LittleEndian.Uint64(offsetsAll[startCell*8:])
	var hi uint64
	if end := startCell + cellCount; end < n {
		hi = binary.LittleEndian.Uint64(offsetsAll[end*8:])
	} else {
		hi = uint64(len(valuesAll))
	}
	values = append([]byte(nil), valuesAll[lo:hi]...)
	offsets = make([]byte, cellCount*8)
	for i := int64(0); i < cellCount; i++ {
		v := binary.LittleEndian.Uint64(offsetsAll[(startCell+i)*8:])
		binary.LittleEndian.PutUint64(offsets[i*8:], v-lo)
	}
	return values, offsets
}

// gatherVar is sliceVar's counterpart for an arbitrary (non-contiguous)
// set of cell indices, used by the sparse write path after sorting.
func gatherVar(offsetsAll, valuesAll []byte, idx []int) (values, offsets []byte) {
	n := int64(len(offsetsAll)) / 8
	segBound := func(pos int) (uint64, uint64) {
		lo := binary.LittleEndian.Uint64(offsetsAll[int64(pos)*8:])
		var hi uint64
		if int64(pos+1) < n {
			hi = binary.LittleEndian.Uint64(offsetsAll[int64(pos+1)*8:])
		} else {
			hi = uint64(len(valuesAll))
		}
		return lo, hi
	}
	offsets = make([]byte, len(idx)*8)
	var cursor uint64
	for i, pos := range idx {
		lo, hi := segBound(pos)
		binary.LittleEndian.PutUint64(offsets[i*8:], cursor)
		values = append(values, valuesAll[lo:hi]...)
		cursor += hi - lo
	}
	return values, offsets
}
