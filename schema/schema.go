// Package schema describes the array schema model: dimensions, their
// domains and tile extents, attributes, and the global cell/tile
// order. Query (package query) treats an instance of Schema as
// immutable for the lifetime of a query, consuming it the way
// sneller's query plan consumes an immutable db.Schema (db/def.go).
package schema

import "fmt"

// Datatype enumerates the element types an Attribute or a dimension's
// domain may hold. Only a small, fixed set is supported, the same
// preference for a closed ion.Type enumeration (ion/type.go) over an
// open type system that sneller shows.
type Datatype int

const (
	Int32 Datatype = iota
	Int64
	Float32
	Float64
	Char // variable-length byte/rune payload; CellValNum must be VarNum
)

func (d Datatype) String() string {
	switch d {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Char:
		return "char"
	default:
		return "unknown"
	}
}

// Size returns the byte width of one fixed-size element, or 0 for a
// variable-sized datatype.
func (d Datatype) Size() int {
	switch d {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// VarNum marks an Attribute.CellValNum as variable-sized (the
// TileDB-style convention this schema borrows).
const VarNum = -1

// CellOrder is the ordering of cells within a tile (and, doubling as
// TileOrder, of tiles within the tile grid).
type CellOrder int

const (
	RowMajor CellOrder = iota
	ColMajor
)

func (o CellOrder) String() string {
	if o == ColMajor {
		return "col-major"
	}
	return "row-major"
}

// Dimension describes one axis of the domain: its inclusive [Low,
// High] range and the extent of one tile along that axis.
type Dimension struct {
	Name       string
	Low, High  int64
	TileExtent int64
}

// Span returns the number of distinct coordinate values along this
// dimension.
func (d Dimension) Span() int64 { return d.High - d.Low + 1 }

// Tiles returns the number of tiles the tile extent divides this
// dimension's span into (the last tile may be partial).
func (d Dimension) Tiles() int64 {
	span := d.Span()
	return (span + d.TileExtent - 1) / d.TileExtent
}

// Attribute is one named, typed column of the array.
type Attribute struct {
	Name string
	Type Datatype
	// CellValNum is the number of Type elements per cell, or VarNum
	// for a variable-length attribute.
	CellValNum int
	// Compressor records a codec name (e.g. "zstd") from the schema
	// description. It is not consulted when tiles are written or read:
	// every attribute of a fragment uses the codec the write Query was
	// created with (query.NewWrite).
	Compressor string
}

// Variable reports whether the attribute is variable-sized (requires
// an offsets file plus a values file on disk).
func (a Attribute) Variable() bool { return a.CellValNum == VarNum }

// CellSize returns the fixed per-cell byte size of the attribute, or
// 0 if it is variable-sized.
func (a Attribute) CellSize() int {
	if a.Variable() {
		return 0
	}
	n := a.CellValNum
	if n <= 0 {
		n = 1
	}
	return n * a.Type.Size()
}

// CoordsName is the reserved pseudo-attribute name carrying a sparse
// cell's coordinate tuple, served through the same tile-cache path as
// ordinary attributes.
const CoordsName = "__coords"

// Schema is the immutable description of one array.
type Schema struct {
	Dimensions []Dimension
	Attributes []Attribute
	// Sparse distinguishes sparse arrays (explicit coordinates) from
	// dense arrays (implicit rectangular coverage).
	Sparse bool
	// CellOrder is the order of cells within a tile and (interpreted
	// over the tile grid) of tiles relative to one another -- the
	// source data model keeps these independently configurable; we
	// fold them into one field since every example in this spec uses
	// the same order for both, and nothing in the pipeline requires
	// they differ.
	CellOrder CellOrder
}

// NDim returns the number of dimensions in the domain.
func (s *Schema) NDim() int { return len(s.Dimensions) }

// AttrIndex returns the index of the attribute named name, or -1.
// CoordsName is never an attribute, so it always yields -1.
func (s *Schema) AttrIndex(name string) int {
	for i := range s.Attributes {
		if s.Attributes[i].Name == name {
			return i
		}
	}
	return -1
}

// Domain returns the schema's full-domain Rectangle.
func (s *Schema) Domain() Rectangle {
	r := Rectangle{Low: make([]int64, s.NDim()), High: make([]int64, s.NDim())}
	for i, d := range s.Dimensions {
		r.Low[i] = d.Low
		r.High[i] = d.High
	}
	return r
}

// CellsPerTile returns the number of cells in one full interior tile.
func (s *Schema) CellsPerTile() int64 {
	n := int64(1)
	for _, d := range s.Dimensions {
		n *= d.TileExtent
	}
	return n
}

// TileGrid returns, per dimension, the number of tiles that dimension
// is divided into.
func (s *Schema) TileGrid() []int64 {
	g := make([]int64, s.NDim())
	for i, d := range s.Dimensions {
		g[i] = d.Tiles()
	}
	return g
}

// TileIndex returns the per-dimension tile coordinate containing c.
func (s *Schema) TileIndex(c []int64) []int64 {
	t := make([]int64, s.NDim())
	for i, d := range s.Dimensions {
		t[i] = (c[i] - d.Low) / d.TileExtent
	}
	return t
}

// TileRect returns the covered Rectangle of the tile at tile
// coordinate t (clipped to the domain -- edge tiles may be partial).
func (s *Schema) TileRect(t []int64) Rectangle {
	r := Rectangle{Low: make([]int64, s.NDim()), High: make([]int64, s.NDim())}
	for i, d := range s.Dimensions {
		low := d.Low + t[i]*d.TileExtent
		high := low + d.TileExtent - 1
		if high > d.High {
			high = d.High
		}
		r.Low[i] = low
		r.High[i] = high
	}
	return r
}

// FlatTileIndex flattens a per-dimension tile coordinate into a
// single index according to the schema's CellOrder interpreted over
// the tile grid, with dimension 0 the slowest-varying axis in
// row-major order (and the fastest-varying in column-major order).
func (s *Schema) FlatTileIndex(t []int64) int64 {
	grid := s.TileGrid()
	return flatten(t, grid, s.CellOrder)
}

// FlatCellIndex flattens a cell's position within its own tile (local
// coordinate, each component in [0, TileExtent)) the same way
// FlatTileIndex flattens tile coordinates.
func (s *Schema) FlatCellIndex(local []int64) int64 {
	extents := make([]int64, s.NDim())
	for i, d := range s.Dimensions {
		extents[i] = d.TileExtent
	}
	return flatten(local, extents, s.CellOrder)
}

func flatten(coord, bounds []int64, order CellOrder) int64 {
	n := len(coord)
	idx := int64(0)
	if order == RowMajor {
		for i := 0; i < n; i++ {
			idx = idx*bounds[i] + coord[i]
		}
	} else {
		for i := n - 1; i >= 0; i-- {
			idx = idx*bounds[i] + coord[i]
		}
	}
	return idx
}

// LocalCoord returns c's position relative to the low corner of the
// tile that contains it.
func (s *Schema) LocalCoord(c []int64) []int64 {
	t := s.TileIndex(c)
	local := make([]int64, s.NDim())
	for i, d := range s.Dimensions {
		tileLow := d.Low + t[i]*d.TileExtent
		local[i] = c[i] - tileLow
	}
	return local
}

// GlobalCellIndex returns c's rank in the schema's global cell order:
// tiles ordered by FlatTileIndex, cells within a tile ordered by
// FlatCellIndex. It is only meaningful for comparing two coordinates
// within the same full-tile-extent array (dense writes); see
// GlobalLess for the general comparator used everywhere else.
func (s *Schema) GlobalCellIndex(c []int64) int64 {
	t := s.TileIndex(c)
	return s.FlatTileIndex(t)*s.CellsPerTile() + s.FlatCellIndex(s.LocalCoord(c))
}

// GlobalLess reports whether coordinate a sorts before b in the
// schema's global cell order (tile order, then within-tile cell
// order). This is the comparator used by the write pipeline
// (GLOBAL_ORDER / UNORDERED layouts) and by dedup/merge logic that
// needs a total order independent of any one fragment's tiling.
func (s *Schema) GlobalLess(a, b []int64) bool {
	ta, tb := s.TileIndex(a), s.TileIndex(b)
	fa, fb := s.FlatTileIndex(ta), s.FlatTileIndex(tb)
	if fa != fb {
		return fa < fb
	}
	la, lb := s.FlatCellIndex(s.LocalCoord(a)), s.FlatCellIndex(s.LocalCoord(b))
	return la < lb
}

// Validate checks that the schema is well-formed: at least one
// dimension, positive tile extents, non-inverted domains, attribute
// names unique and not colliding with the reserved coordinates name,
// and well-formed CellValNum.
func (s *Schema) Validate() error {
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("schema: at least one dimension is required")
	}
	for _, d := range s.Dimensions {
		if d.Low > d.High {
			return fmt.Errorf("schema: dimension %q has inverted domain [%d,%d]", d.Name, d.Low, d.High)
		}
		if d.TileExtent <= 0 {
			return fmt.Errorf("schema: dimension %q has non-positive tile extent %d", d.Name, d.TileExtent)
		}
	}
	seen := make(map[string]bool, len(s.Attributes))
	for _, a := range s.Attributes {
		if a.Name == CoordsName {
			return fmt.Errorf("schema: attribute name %q is reserved", CoordsName)
		}
		if seen[a.Name] {
			return fmt.Errorf("schema: duplicate attribute name %q", a.Name)
		}
		seen[a.Name] = true
		if a.CellValNum != VarNum && a.CellValNum <= 0 {
			return fmt.Errorf("schema: attribute %q has invalid CellValNum %d", a.Name, a.CellValNum)
		}
		if a.Type == Char && !a.Variable() {
			return fmt.Errorf("schema: attribute %q: char datatype must be variable-sized", a.Name)
		}
	}
	return nil
}
