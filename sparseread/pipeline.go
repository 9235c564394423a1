// Package sparseread implements the sparse read pipeline: given a
// subarray and a set of fragments it enumerates overlapping tiles,
// extracts the coordinates that actually fall inside the subarray,
// sorts and deduplicates them across fragments (most-recent-wins),
// compresses the survivors into contiguous cell ranges, and copies
// attribute data for those ranges into caller buffers while honoring
// buffer capacity.
package sparseread

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/overlap"
	"github.com/shubhampachori12110095/TileDB/qerror"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/tilecache"
)

// coord is one candidate coordinate surviving the in-subarray filter
// over an overlapping tile.
type coord struct {
	fragIdx int
	tileIdx int
	pos     int
	c       []int64
}

// CellRange is a contiguous run of cell positions within a single
// (fragment, tile) that survived sort+dedup.
type CellRange struct {
	FragIdx, TileIdx int
	Start, End       int // inclusive, positions within the tile's coords/attr arrays
}

// Cells returns the number of cells covered by r.
func (r CellRange) Cells() int { return r.End - r.Start + 1 }

// Plan is the output of Compute: the deterministic sequence of cell
// ranges a read over (subarray, frags, layout) must copy. Which
// fragment wins a duplicated coordinate depends on the order of frags. It is stable across INCOMPLETE re-submissions of
// the same Query, since recomputing it is deterministic and cheap
// relative to the I/O the copy stage performs -- only the copy
// cursor, tracked by the caller (package query), advances between
// submissions.
type Plan struct {
	Ranges []CellRange
	NDim   int
}

// TotalCells returns the number of cells across every range in the
// plan -- the size of the output were buffers unbounded.
func (p *Plan) TotalCells() int64 {
	var n int64
	for _, r := range p.Ranges {
		n += int64(r.Cells())
	}
	return n
}

func globalComparator(order schema.CellOrder) func(a, b []int64) bool {
	if order == schema.ColMajor {
		return func(a, b []int64) bool {
			for i := len(a) - 1; i >= 0; i-- {
				if a[i] != b[i] {
					return a[i] < b[i]
				}
			}
			return false
		}
	}
	return func(a, b []int64) bool {
		for i := range a {
			if a[i] != b[i] {
				return a[i] < b[i]
			}
		}
		return false
	}
}

// Layout selects the comparator coordinates are sorted by.
// GlobalOrder asks for the schema's tiled global cell order rather
// than a flat row/col-major compare over dimension values.
type Layout struct {
	Order  schema.CellOrder
	Global bool
}

func comparator(sch *schema.Schema, l Layout) func(a, b []int64) bool {
	if l.Global {
		return sch.GlobalLess
	}
	return globalComparator(l.Order)
}

// Compute enumerates overlapping tiles, extracts in-subarray
// coordinates, sorts them per layout, deduplicates with
// most-recent-fragment-wins, and coalesces the result into
// CellRanges.
func Compute(ctx context.Context, cache *tilecache.Cache, sch *schema.Schema, subarray schema.Rectangle, frags []*fragment.Metadata, l Layout) (*Plan, error) {
	ndim := sch.NDim()
	tiles := overlap.Compute(subarray, frags)

	var coords []coord
	for _, ot := range tiles {
		meta := frags[ot.FragmentIdx]
		tile, err := cache.ReadCoords(ctx, meta, ot.TileIdx)
		if err != nil {
			return nil, qerror.Wrap(qerror.IOError, err, "sparseread: read coords tile")
		}
		raw := tile.Bytes()
		n := int(meta.Tiles[ot.TileIdx].CellCount)
		if ot.FullOverlap {
			for pos := 0; pos < n; pos++ {
				coords = append(coords, coord{
					fragIdx: ot.FragmentIdx,
					tileIdx: ot.TileIdx,
					pos:     pos,
					c:       schema.CoordAt(raw, ndim, pos),
				})
			}
			continue
		}
		for pos := 0; pos < n; pos++ {
			c := schema.CoordAt(raw, ndim, pos)
			if subarray.ContainsPoint(c) {
				coords = append(coords, coord{
					fragIdx: ot.FragmentIdx,
					tileIdx: ot.TileIdx,
					pos:     pos,
					c:       c,
				})
			}
		}
	}

	cmp := comparator(sch, l)
	slices.SortStableFunc(coords, func(a, b coord) bool { return cmp(a.c, b.c) })

	deduped := dedup(coords)
	ranges := compress(deduped)
	return &Plan{Ranges: ranges, NDim: ndim}, nil
}

// dedup scans a run of consecutive entries with identical coordinates
// and keeps the one with the largest fragIdx (most recent fragment
// wins), breaking ties by the larger pos (a later write within the
// same fragment/tile).
func dedup(sorted []coord) []coord {
	if len(sorted) == 0 {
		return nil
	}
	out := make([]coord, 0, len(sorted))
	i := 0
	for i < len(sorted) {
		j := i + 1
		best := i
		for j < len(sorted) && coordEqual(sorted[j].c, sorted[i].c) {
			if sorted[j].fragIdx > sorted[best].fragIdx ||
				(sorted[j].fragIdx == sorted[best].fragIdx && sorted[j].pos > sorted[best].pos) {
				best = j
			}
			j++
		}
		out = append(out, sorted[best])
		i = j
	}
	return out
}

func coordEqual(a, b []int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// compress coalesces consecutive survivors sharing a tile with
// consecutive pos values.
func compress(deduped []coord) []CellRange {
	var out []CellRange
	for _, c := range deduped {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.FragIdx == c.fragIdx && last.TileIdx == c.tileIdx && last.End+1 == c.pos {
				last.End = c.pos
				continue
			}
		}
		out = append(out, CellRange{FragIdx: c.fragIdx, TileIdx: c.tileIdx, Start: c.pos, End: c.pos})
	}
	return out
}

// CoordsOut copies the coordinate tuples described by ranges
// [startCell, startCell+maxCells) -- or until dst is exhausted,
// whichever comes first -- into dst, returning how many cells were
// written and whether dst was the limiting factor. A cell is never
// partially emitted. maxCells <= 0 means unbounded.
func CoordsOut(ctx context.Context, cache *tilecache.Cache, plan *Plan, frags []*fragment.Metadata, startCell, maxCells int, dst []byte) (written int, overflow bool, err error) {
	cellSize := int64(plan.NDim * 8)
	return copyFixed(ctx, plan, startCell, maxCells, dst, cellSize, func(ot CellRange) ([]byte, error) {
		meta := frags[ot.FragIdx]
		tile, err := cache.ReadCoords(ctx, meta, ot.TileIdx)
		if err != nil {
			return nil, err
		}
		return tile.Bytes(), nil
	})
}

// AttrOut copies a fixed-size attribute's values for
// [startCell,startCell+maxCells) into dst, applying the same overflow
// discipline as CoordsOut.
func AttrOut(ctx context.Context, cache *tilecache.Cache, plan *Plan, frags []*fragment.Metadata, attr string, cellSize int64, startCell, maxCells int, dst []byte) (written int, overflow bool, err error) {
	return copyFixed(ctx, plan, startCell, maxCells, dst, cellSize, func(ot CellRange) ([]byte, error) {
		meta := frags[ot.FragIdx]
		pair, err := cache.ReadAttr(ctx, meta, attr, ot.TileIdx)
		if err != nil {
			return nil, err
		}
		return pair.Values.Bytes(), nil
	})
}

// copyFixed is the shared bytewise-copy engine for both coordinates
// and fixed-size attributes.
func copyFixed(ctx context.Context, plan *Plan, startCell, maxCells int, dst []byte, cellSize int64, src func(CellRange) ([]byte, error)) (int, bool, error) {
	cursor := 0
	written := 0
	budget := maxCells
	unbounded := budget <= 0
	dstOff := int64(0)
	for _, r := range plan.Ranges {
		n := r.Cells()
		if cursor+n <= startCell {
			cursor += n
			continue
		}
		// the range may be partially behind startCell from a prior
		// submission; skip only the leading cells already emitted.
		skip := 0
		if startCell > cursor {
			skip = startCell - cursor
		}
		avail := n - skip
		if !unbounded && avail > budget-written {
			avail = budget - written
		}
		// clamp to destination buffer capacity, rounding down to a
		// whole number of cells -- never emit a partial cell.
		maxFit := int64(len(dst)) - dstOff
		fitCells := int(maxFit / cellSize)
		if avail > fitCells {
			avail = fitCells
		}
		if avail <= 0 {
			if maxFit < int64(n-skip)*cellSize {
				return written, true, nil
			}
			cursor += n
			continue
		}
		raw, err := src(r)
		if err != nil {
			return written, false, qerror.Wrap(qerror.IOError, err, "sparseread: read tile for copy")
		}
		start := r.Start + skip
		nbytes := int64(avail) * cellSize
		copy(dst[dstOff:dstOff+nbytes], raw[int64(start)*cellSize:int64(start)*cellSize+nbytes])
		dstOff += nbytes
		written += avail
		cursor += n
		if avail < n-skip {
			// the range was cut short by either the cell budget or dst.
			if !unbounded && written >= budget {
				return written, false, nil
			}
			return written, true, nil
		}
		if !unbounded && written >= budget {
			return written, false, nil
		}
	}
	return written, false, nil
}

// VarOut copies a variable-size attribute's offsets and values for
// [startCell,startCell+maxCells) into the caller's offsets/values
// buffers: destination offsets are emitted relative to the caller's
// values-buffer cursor, and the source tile's own offsets table
// supplies segment boundaries (the last one implicit from the tile's
// byte size).
func VarOut(ctx context.Context, cache *tilecache.Cache, plan *Plan, frags []*fragment.Metadata, attr string, startCell, maxCells int, offsetsDst, valuesDst []byte) (cellsWritten int, overflow bool, err error) {
	cursor := 0
	written := 0
	budget := maxCells
	unbounded := budget <= 0
	offDstOff := int64(0)
	valDstOff := int64(0)
	for _, r := range plan.Ranges {
		n := r.Cells()
		if cursor+n <= startCell {
			cursor += n
			continue
		}
		skip := 0
		if startCell > cursor {
			skip = startCell - cursor
		}
		meta := frags[r.FragIdx]
		pair, err := cache.ReadAttr(ctx, meta, attr, r.TileIdx)
		if err != nil {
			return written, false, qerror.Wrap(qerror.IOError, err, "sparseread: read variable tile")
		}
		if pair.Offsets == nil {
			return written, false, qerror.New(qerror.ConsistencyError, "sparseread: attribute %q has no offsets tile", attr)
		}
		srcOffsets := decodeUint64s(pair.Offsets.Bytes())
		srcValues := pair.Values.Bytes()
		segBound := func(pos int) (int64, int64) {
			lo := int64(srcOffsets[pos])
			var hi int64
			if pos+1 < len(srcOffsets) {
				hi = int64(srcOffsets[pos+1])
			} else {
				hi = int64(len(srcValues))
			}
			return lo, hi
		}
		for i := skip; i < n; i++ {
			if !unbounded && written >= budget {
				return written, false, nil
			}
			pos := r.Start + i
			lo, hi := segBound(pos)
			segLen := hi - lo
			if offDstOff+8 > int64(len(offsetsDst)) || valDstOff+segLen > int64(len(valuesDst)) {
				return written, true, nil
			}
			putUint64(offsetsDst[offDstOff:], uint64(valDstOff))
			copy(valuesDst[valDstOff:valDstOff+segLen], srcValues[lo:hi])
			offDstOff += 8
			valDstOff += segLen
			written++
		}
		cursor += n
	}
	return written, false, nil
}

func decodeUint64s(raw []byte) []uint64 {
	out := make([]uint64, len(raw)/8)
	for i := range out {
		out[i] = getUint64(raw[i*8:])
	}
	return out
}

func getUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
