// Package arrayread implements the dense array merge-stream cursor: it
// walks dense fragments in global cell order. It resolves, for every
// schema tile intersecting a subarray, which fragment most recently
// defines that tile's cells, and reduces the result to the same
// CellRange/Plan shape package sparseread's copy stage already knows
// how to drain -- a dense read becomes, from the copy stage's point of
// view, just another sparseread.Plan whose ranges happen to be the
// tile's entire local cell order rather than a scattered set of
// surviving sparse coordinates.
//
// This package resolves ownership at schema-tile granularity, picking
// the most recently created dense fragment touching each tile. A
// schema tile split between two fragments' dense coverage is not
// detected: only the winning fragment's tile rectangle is read, and
// cells of the tile outside it are not taken from older fragments.
// Sparse fragments are ignored, and nothing promotes a dense read to
// sparseread.
package arrayread

import (
	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/overlap"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/sparseread"
)

// Compute resolves subarray against frags (only entries with
// Dense == true participate) and returns a sparseread.Plan whose
// ranges, drained in order by sparseread.CoordsOut/AttrOut/VarOut,
// reproduce the subarray's cells in the schema's global cell order.
// frags must be in fragment creation order.
func Compute(subarray schema.Rectangle, sch *schema.Schema, frags []*fragment.Metadata) (*sparseread.Plan, error) {
	denseFrags, origIdx := denseOnly(frags)
	tiles := overlap.Compute(subarray, denseFrags)
	groups := overlap.ByTileCoord(tiles, denseFrags)

	type winner struct {
		origFrag int
		tileIdx  int
		clip     schema.Rectangle
	}
	winners := make([]winner, 0, len(groups))
	for _, bucket := range groups {
		best := -1
		for i, ot := range bucket {
			if best == -1 || origIdx[ot.FragmentIdx] > origIdx[bucket[best].FragmentIdx] {
				best = i
			}
		}
		ot := bucket[best]
		orig := origIdx[ot.FragmentIdx]
		tile := frags[orig].Tiles[ot.TileIdx]
		clip, ok := tile.MBR.Intersect(subarray)
		if !ok {
			continue
		}
		winners = append(winners, winner{origFrag: orig, tileIdx: ot.TileIdx, clip: clip})
	}

	var ranges []sparseread.CellRange
	tileOrder := make([]int64, len(winners))
	for i, w := range winners {
		tile := frags[w.origFrag].Tiles[w.tileIdx]
		tileOrder[i] = sch.FlatTileIndex(tile.TileCoord)
		runs := localRuns(sch, tile.MBR, w.clip)
		for _, run := range runs {
			ranges = append(ranges, sparseread.CellRange{
				FragIdx: w.origFrag,
				TileIdx: w.tileIdx,
				Start:   int(run.start),
				End:     int(run.start + run.length - 1),
			})
		}
	}
	sortRangesByTile(ranges, frags, sch)

	return &sparseread.Plan{Ranges: ranges, NDim: sch.NDim()}, nil
}

func denseOnly(frags []*fragment.Metadata) ([]*fragment.Metadata, []int) {
	out := make([]*fragment.Metadata, 0, len(frags))
	idx := make([]int, 0, len(frags))
	for i, f := range frags {
		if f.Dense {
			out = append(out, f)
			idx = append(idx, i)
		}
	}
	return out, idx
}

type localRun struct {
	start, length int64
}

// localRuns decomposes clip (a sub-rectangle of tileRect, itself the
// tile's full covered rectangle) into contiguous runs of the tile's
// local flat cell order. Because the fastest-varying dimension's
// cells are stored contiguously, holding every other dimension fixed
// and sweeping the fastest dimension across clip's range always
// yields one contiguous run.
func localRuns(sch *schema.Schema, tileRect, clip schema.Rectangle) []localRun {
	ndim := sch.NDim()
	fastDim := ndim - 1
	outer := make([]int, 0, ndim-1)
	for d := 0; d < ndim; d++ {
		if d != fastDim {
			outer = append(outer, d)
		}
	}
	if sch.CellOrder == schema.ColMajor {
		fastDim = 0
		outer = outer[:0]
		for d := ndim - 1; d >= 1; d-- {
			outer = append(outer, d)
		}
	}

	var runs []localRun
	coord := make([]int64, ndim)
	var walk func(i int)
	walk = func(i int) {
		if i == len(outer) {
			local := make([]int64, ndim)
			for d := 0; d < ndim; d++ {
				if d == fastDim {
					local[d] = clip.Low[d] - tileRect.Low[d]
				} else {
					local[d] = coord[d] - tileRect.Low[d]
				}
			}
			start := sch.FlatCellIndex(local)
			length := clip.High[fastDim] - clip.Low[fastDim] + 1
			runs = append(runs, localRun{start: start, length: length})
			return
		}
		d := outer[i]
		for v := clip.Low[d]; v <= clip.High[d]; v++ {
			coord[d] = v
			walk(i + 1)
		}
	}
	walk(0)
	return runs
}

func sortRangesByTile(ranges []sparseread.CellRange, frags []*fragment.Metadata, sch *schema.Schema) {
	key := func(r sparseread.CellRange) int64 {
		return sch.FlatTileIndex(frags[r.FragIdx].Tiles[r.TileIdx].TileCoord)
	}
	// insertion sort: the number of winning tiles is small relative to
	// a tile's cell count, and each tile already contributes its runs
	// in ascending local order from localRuns' nesting.
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0; j-- {
			ki, kj := key(ranges[j]), key(ranges[j-1])
			if ki < kj {
				ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
			} else {
				break
			}
		}
	}
}
