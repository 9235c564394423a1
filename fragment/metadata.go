package fragment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shubhampachori12110095/TileDB/qerror"
	"github.com/shubhampachori12110095/TileDB/schema"
)

// Slot locates one compressed tile payload within an attribute (or
// coordinates) file.
type Slot struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"` // on-disk (compressed) size
	Raw    int64 `json:"raw"`  // decompressed size
}

// AttrSlot locates one tile's payload for a single attribute. Offsets
// is the zero Slot for fixed-size attributes; for variable-size
// attributes it locates the offsets-file tile that accompanies
// Values.
type AttrSlot struct {
	Values  Slot `json:"values"`
	Offsets Slot `json:"offsets,omitempty"`
}

// Tile describes one on-disk tile: its covered range (MBR for sparse
// fragments, the exact schema-grid rectangle for dense ones), how
// many cells it holds, and where each attribute's payload lives.
type Tile struct {
	// MBR is the minimum bounding rectangle of the coordinates
	// actually stored in this tile (sparse), or the tile's exact
	// covered rectangle (dense).
	MBR schema.Rectangle `json:"mbr"`
	// TileCoord is the schema tile-grid coordinate this entry
	// corresponds to. It is always populated, even for sparse
	// fragments: overlap computation groups sparse cells by the same
	// schema tile grid dense ones use, so a fragment built by this
	// package always aligns sparse tiles to the schema grid too, for
	// simplicity of the overlap/merge logic.
	TileCoord []int64 `json:"tile_coord"`
	CellCount int64   `json:"cell_count"`
	// Coords locates this tile's coordinate payload; zero Slot for
	// dense fragments.
	Coords Slot `json:"coords,omitempty"`
	// Attrs is aligned with the owning Metadata's AttrOrder.
	Attrs []AttrSlot `json:"attrs"`
}

// Metadata is the persisted bookkeeping for one fragment: its
// directory URI, the subdomain it covers, per-tile MBRs and file
// offsets/sizes, and cell counts, serialized to
// __fragment_metadata.tdb.
type Metadata struct {
	Version    int               `json:"version"`
	URI        string            `json:"uri"`
	Dense      bool              `json:"dense"`
	Domain     schema.Rectangle  `json:"domain"`
	Compressor string            `json:"compressor"`
	// Sequence is the fragment's creation-order rank, derived from
	// its name's embedded monotonic counter. Fragments have a total
	// order by creation timestamp, but the millisecond timestamp
	// alone cannot break ties between fragments created in the same
	// millisecond, so the name also carries this counter; see
	// fragment.NextSeq.
	Sequence int64 `json:"sequence"`
	// AttrOrder records the attribute names this fragment's Tile.Attrs
	// slices are aligned to, so that adding attributes to the schema
	// after a fragment was written does not silently misalign slots.
	AttrOrder []string `json:"attr_order"`
	Tiles     []Tile   `json:"tiles"`
	// Checksum is the hex-encoded blake2b-256 digest of every
	// compressed tile payload written to this fragment, in append
	// order. It covers the attribute/coords files, not this metadata
	// file itself.
	Checksum string `json:"checksum,omitempty"`
}

// AttrIndex returns the position of name within m.AttrOrder, or -1.
func (m *Metadata) AttrIndex(name string) int {
	for i, n := range m.AttrOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// TotalCells returns the number of cells across every tile in the
// fragment.
func (m *Metadata) TotalCells() int64 {
	var n int64
	for i := range m.Tiles {
		n += m.Tiles[i].CellCount
	}
	return n
}

// Encode serializes metadata as the contents of
// __fragment_metadata.tdb. JSON is used rather than a bespoke binary
// layout: sneller reserves its ion encoding for row/columnar table
// data and is happy to use encoding/json for definitions that are
// themselves structurally simple (db.TableDefinition, db/def.go).
func (m *Metadata) Encode() ([]byte, error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("fragment: encode metadata: %w", err)
	}
	return buf, nil
}

// Decode parses metadata previously produced by Encode.
func Decode(buf []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("fragment: decode metadata: %w", err)
	}
	return &m, nil
}

// Validate cross-checks metadata for internal consistency: tile
// attribute slices must be aligned with AttrOrder, and slot sizes
// must be non-negative. Failures are qerror.ConsistencyError.
func (m *Metadata) Validate() error {
	for i := range m.Tiles {
		t := &m.Tiles[i]
		if len(t.Attrs) != len(m.AttrOrder) {
			return qerror.New(qerror.ConsistencyError, "fragment: tile %d has %d attr slots, expected %d", i, len(t.Attrs), len(m.AttrOrder))
		}
		if !m.Dense && t.Coords.Size == 0 && t.CellCount > 0 {
			return qerror.New(qerror.ConsistencyError, "fragment: sparse tile %d has %d cells but no coords slot", i, t.CellCount)
		}
		for j := range t.Attrs {
			if t.Attrs[j].Values.Size < 0 || t.Attrs[j].Offsets.Size < 0 {
				return qerror.New(qerror.ConsistencyError, "fragment: tile %d attr %d has negative slot size", i, j)
			}
		}
	}
	return nil
}

// MetadataFileName is the reserved name of a fragment's bookkeeping
// file.
const MetadataFileName = "__fragment_metadata.tdb"

// CoordsFileName is the reserved name of a sparse fragment's
// coordinates file.
const CoordsFileName = "__coords.tdb"

// CoordsURI returns the path of m's coordinates file.
func (m *Metadata) CoordsURI() string {
	return strings.TrimSuffix(m.URI, "/") + "/" + CoordsFileName
}

// AttrURI returns the path of the file holding attr's values (for a
// fixed-size attribute) or offsets (for a variable-size one).
func (m *Metadata) AttrURI(attr string) string {
	return strings.TrimSuffix(m.URI, "/") + "/" + AttrFileName(attr)
}

// AttrVarURI returns the path of the file holding a variable-size
// attribute's values.
func (m *Metadata) AttrVarURI(attr string) string {
	return strings.TrimSuffix(m.URI, "/") + "/" + AttrVarFileName(attr)
}

// MetadataURI returns the path of m's own bookkeeping file.
func (m *Metadata) MetadataURI() string {
	return strings.TrimSuffix(m.URI, "/") + "/" + MetadataFileName
}

// AttrFileName returns the on-disk file name holding an attribute's
// tile payloads: the only file for a fixed-size attribute (values),
// or the offsets file for a variable-size attribute.
func AttrFileName(attr string) string { return attr + ".tdb" }

// AttrVarFileName returns the on-disk file name holding a
// variable-size attribute's values; its offsets live in
// AttrFileName(attr).
func AttrVarFileName(attr string) string { return attr + "_var.tdb" }
