// Package overlap implements the overlap computer: it enumerates
// (fragment, tile) pairs that intersect a subarray and classifies
// each as fully or partially overlapping.
package overlap

import (
	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"

	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/schema"
)

// siphash key used to hash tile-grid coordinates into the lookup
// table ByTileCoord builds. Fixed and unexported: this is a
// non-adversarial, in-process lookup key, not a security boundary.
var tileHashK0, tileHashK1 = uint64(0x9ae16a3b2f90404f), uint64(0xc3a5c85c97cb3127)

// Tile is one candidate (fragment, tile) pair produced by Compute.
type Tile struct {
	FragmentIdx int
	TileIdx     int
	FullOverlap bool
}

// Compute intersects subarray with each fragment's covered subdomain
// and, for every tile (dense: fixed grid; sparse: MBR) that survives,
// emits a Tile classified by whether it falls entirely within
// subarray. Results are ordered by (FragmentIdx, TileIdx) ascending,
// giving the deterministic basis sparseread's dedup tie-break relies
// on.
func Compute(subarray schema.Rectangle, frags []*fragment.Metadata) []Tile {
	var out []Tile
	for fi, meta := range frags {
		if _, ok := subarray.Intersect(meta.Domain); !ok {
			continue
		}
		for ti := range meta.Tiles {
			t := &meta.Tiles[ti]
			if t.CellCount == 0 {
				continue
			}
			if _, ok := t.MBR.Intersect(subarray); !ok {
				continue
			}
			out = append(out, Tile{
				FragmentIdx: fi,
				TileIdx:     ti,
				FullOverlap: subarray.Contains(t.MBR),
			})
		}
	}
	// the per-fragment loop already yields ascending TileIdx within a
	// fragment and ascending FragmentIdx overall; the explicit sort
	// below exists to make that ordering an invariant of the
	// contract rather than an accident of the loop shape.
	slices.SortFunc(out, func(a, b Tile) bool {
		if a.FragmentIdx != b.FragmentIdx {
			return a.FragmentIdx < b.FragmentIdx
		}
		return a.TileIdx < b.TileIdx
	})
	return out
}

// ByTileCoord groups candidates by the schema tile-grid coordinate
// their TileCoord resolves to, used by arrayread to merge per-tile
// contributions from multiple dense fragments covering the same
// schema tile. Coordinates are hashed with siphash into a uint64
// bucket key (a collision is resolved by comparing TileCoord directly
// and probing to the next key), the same fast non-cryptographic
// hash sneller reaches for when interning small fixed-shape keys.
func ByTileCoord(tiles []Tile, frags []*fragment.Metadata) map[uint64][]Tile {
	out := make(map[uint64][]Tile)
	for _, t := range tiles {
		tc := frags[t.FragmentIdx].Tiles[t.TileIdx].TileCoord
		key := hashTileCoord(tc)
		// a bucket holding a different TileCoord is a collision: probe
		// forward to the next free or matching key.
		for {
			b, ok := out[key]
			if !ok || slices.Equal(frags[b[0].FragmentIdx].Tiles[b[0].TileIdx].TileCoord, tc) {
				break
			}
			key++
		}
		out[key] = append(out[key], t)
	}
	return out
}

func hashTileCoord(coord []int64) uint64 {
	b := make([]byte, len(coord)*8)
	for i, c := range coord {
		j := i * 8
		b[j] = byte(c >> 56)
		b[j+1] = byte(c >> 48)
		b[j+2] = byte(c >> 40)
		b[j+3] = byte(c >> 32)
		b[j+4] = byte(c >> 24)
		b[j+5] = byte(c >> 16)
		b[j+6] = byte(c >> 8)
		b[j+7] = byte(c)
	}
	return siphash.Hash(tileHashK0, tileHashK1, b)
}
