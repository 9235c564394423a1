// Package ordered implements the unified ordered read/write state: it
// converts between a caller's requested ROW_MAJOR/COL_MAJOR layout
// over a subarray and the schema's tiled global cell order fragments
// are built and served in. Historically the read and write directions
// of this conversion were implemented as two mirror-image types; this
// package merges them into one State used by both Query.Read and
// Query.Write.
package ordered

import (
	"sort"

	"github.com/shubhampachori12110095/TileDB/qerror"
	"github.com/shubhampachori12110095/TileDB/schema"
)

// State converts between a caller's ROW_MAJOR/COL_MAJOR layout over a
// subarray and the schema's global cell order. It holds no I/O
// resources; it is a pure in-memory transpose, grounded the way
// sneller's vm package keeps a vector transpose (e.g. radix/sort
// helpers) as a stateless transform over caller-owned buffers rather
// than something that touches storage itself.
type State struct {
	Schema   *schema.Schema
	Subarray schema.Rectangle
	Layout   schema.CellOrder
}

// New builds a State for one subarray/layout pair. Layout must be
// schema.RowMajor or schema.ColMajor; GLOBAL_ORDER and UNORDERED
// queries never need a State since their buffers are already in (or
// are indifferent to) the schema's native order.
func New(sch *schema.Schema, subarray schema.Rectangle, layout schema.CellOrder) *State {
	return &State{Schema: sch, Subarray: subarray, Layout: layout}
}

// Cells returns the total number of cells in the subarray.
func (st *State) Cells() int64 {
	n := int64(1)
	for i := range st.Subarray.Low {
		n *= st.Subarray.High[i] - st.Subarray.Low[i] + 1
	}
	return n
}

// Partitions splits st.Subarray into a sequence of sub-rectangles,
// each covering at most budgetCells cells, so that ToGlobal/FromGlobal
// never needs a transpose buffer larger than the caller's budget
// (spec's compute_subarrays). Splitting walks the slowest-varying
// dimension first, the same dimension enumeration visits first, so
// each partition stays contiguous in the caller's own buffer layout.
func (st *State) Partitions(budgetCells int64) []schema.Rectangle {
	if budgetCells <= 0 || st.Cells() <= budgetCells {
		return []schema.Rectangle{st.Subarray.Clone()}
	}
	ndim := st.Subarray.NDim()
	slow := 0
	if st.Layout == schema.ColMajor {
		slow = ndim - 1
	}
	rowCells := int64(1)
	for i := 0; i < ndim; i++ {
		if i == slow {
			continue
		}
		rowCells *= st.Subarray.High[i] - st.Subarray.Low[i] + 1
	}
	rowsPerSlab := budgetCells / rowCells
	if rowsPerSlab < 1 {
		rowsPerSlab = 1
	}
	var out []schema.Rectangle
	lo := st.Subarray.Low[slow]
	for lo <= st.Subarray.High[slow] {
		hi := lo + rowsPerSlab - 1
		if hi > st.Subarray.High[slow] {
			hi = st.Subarray.High[slow]
		}
		r := st.Subarray.Clone()
		r.Low[slow] = lo
		r.High[slow] = hi
		out = append(out, r)
		lo = hi + 1
	}
	return out
}

// ToGlobal reorders src -- laid out in st.Layout's flat row/col-major
// order over st.Subarray -- into the schema's tiled global cell
// order, the order package fragment's writer expects a GLOBAL_ORDER
// write to arrive in.
func (st *State) ToGlobal(cellSize int64, src []byte) ([]byte, error) {
	return st.transpose(cellSize, src, false)
}

// FromGlobal reorders src -- laid out in the schema's tiled global
// cell order, as produced by package sparseread/arrayread's copy
// stage -- into st.Layout's flat row/col-major order, used to hand
// dense read results back to a caller that asked for ROW_MAJOR or
// COL_MAJOR rather than GLOBAL_ORDER.
func (st *State) FromGlobal(cellSize int64, src []byte) ([]byte, error) {
	return st.transpose(cellSize, src, true)
}

func (st *State) transpose(cellSize int64, src []byte, fromGlobal bool) ([]byte, error) {
	coords := enumerate(st.Subarray, st.Layout)
	n := int64(len(coords))
	if int64(len(src)) != n*cellSize {
		return nil, qerror.New(qerror.ConfigError, "ordered: transpose: buffer holds %d cells, subarray has %d", int64(len(src))/cellSize, n)
	}
	globalOrder := make([]int, n)
	for i := range globalOrder {
		globalOrder[i] = i
	}
	sort.SliceStable(globalOrder, func(i, j int) bool {
		return st.Schema.GlobalLess(coords[globalOrder[i]], coords[globalOrder[j]])
	})

	dst := make([]byte, len(src))
	if !fromGlobal {
		// dst[k] (global-order position k) <- src[globalOrder[k]] (flat position)
		for k, flatPos := range globalOrder {
			copy(dst[int64(k)*cellSize:int64(k+1)*cellSize], src[int64(flatPos)*cellSize:int64(flatPos+1)*cellSize])
		}
		return dst, nil
	}
	// dst[flatPos] <- src[k] where globalOrder[k] == flatPos
	for k, flatPos := range globalOrder {
		copy(dst[int64(flatPos)*cellSize:int64(flatPos+1)*cellSize], src[int64(k)*cellSize:int64(k+1)*cellSize])
	}
	return dst, nil
}

// enumerate lists every coordinate in r in order's flat row/col-major
// order (dimension 0 slowest-varying for RowMajor, dimension n-1
// slowest for ColMajor).
func enumerate(r schema.Rectangle, order schema.CellOrder) [][]int64 {
	ndim := r.NDim()
	dimsOrder := make([]int, ndim)
	if order == schema.ColMajor {
		for i := 0; i < ndim; i++ {
			dimsOrder[i] = ndim - 1 - i
		}
	} else {
		for i := 0; i < ndim; i++ {
			dimsOrder[i] = i
		}
	}
	var out [][]int64
	coord := make([]int64, ndim)
	var walk func(i int)
	walk = func(i int) {
		if i == ndim {
			out = append(out, append([]int64(nil), coord...))
			return
		}
		d := dimsOrder[i]
		for v := r.Low[d]; v <= r.High[d]; v++ {
			coord[d] = v
			walk(i + 1)
		}
	}
	walk(0)
	return out
}
