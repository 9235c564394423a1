package schema

import "encoding/binary"

// EncodeCoords serializes a slice of ndim-length coordinate tuples as
// the raw payload of a coordinates tile: each coordinate component is
// a little-endian int64, tuples concatenated in order.
func EncodeCoords(coords [][]int64) []byte {
	if len(coords) == 0 {
		return nil
	}
	ndim := len(coords[0])
	buf := make([]byte, len(coords)*ndim*8)
	for i, c := range coords {
		for d := 0; d < ndim; d++ {
			binary.LittleEndian.PutUint64(buf[(i*ndim+d)*8:], uint64(c[d]))
		}
	}
	return buf
}

// DecodeCoords parses a coordinates tile payload produced by
// EncodeCoords back into ndim-length tuples.
func DecodeCoords(raw []byte, ndim int) [][]int64 {
	if ndim == 0 {
		return nil
	}
	stride := ndim * 8
	n := len(raw) / stride
	out := make([][]int64, n)
	for i := 0; i < n; i++ {
		c := make([]int64, ndim)
		for d := 0; d < ndim; d++ {
			c[d] = int64(binary.LittleEndian.Uint64(raw[i*stride+d*8:]))
		}
		out[i] = c
	}
	return out
}

// CoordAt returns the i'th coordinate tuple directly from a
// coordinates tile payload without decoding the whole tile, used by
// the sparse read pipeline's compute_overlapping_coords stage to
// avoid allocating [][]int64 for tiles where most cells are
// discarded.
func CoordAt(raw []byte, ndim, i int) []int64 {
	stride := ndim * 8
	c := make([]int64, ndim)
	for d := 0; d < ndim; d++ {
		c[d] = int64(binary.LittleEndian.Uint64(raw[i*stride+d*8:]))
	}
	return c
}
