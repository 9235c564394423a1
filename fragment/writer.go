package fragment

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/shubhampachori12110095/TileDB/compress"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/storage"
)

// AttrPayload is the raw (decompressed) bytes for one attribute
// within one tile: Values always, Offsets only for variable-size
// attributes.
type AttrPayload struct {
	Values  []byte
	Offsets []byte
}

// TilePayload is one tile's worth of data handed to Writer.WriteTile.
// Coords is nil for dense fragments.
type TilePayload struct {
	TileCoord []int64
	MBR       schema.Rectangle
	CellCount int64
	Coords    []byte
	Attrs     []AttrPayload
}

// Writer incrementally builds one new fragment: it appends tile
// payloads to per-attribute files under an in-progress (dot-prefixed)
// directory and, on Finalize, persists __fragment_metadata.tdb and
// atomically publishes the fragment by renaming the directory. This
// mirrors blockfmt.CompressionWriter's role in sneller: the only
// component that appends to the on-disk attribute files.
type Writer struct {
	mgr        storage.Manager
	schema     *schema.Schema
	name       Name
	arrayURI   string
	compressor compress.Compressor
	checksum   hash.Hash

	mu         sync.Mutex
	offsets    map[string]int64
	meta       Metadata
	domain     schema.Rectangle
	haveDomain bool
	finalized  bool
}

// Create begins building a new fragment for sch under arrayURI. name
// should come from NewName so that it embeds the creating thread's
// id and a millisecond timestamp. compressorName selects the tile
// codec ("zstd" or "" for none).
func Create(sch *schema.Schema, arrayURI string, name Name, compressorName string) *Writer {
	comp, _ := compress.Codec(compressorName)
	attrOrder := make([]string, len(sch.Attributes))
	for i := range sch.Attributes {
		attrOrder[i] = sch.Attributes[i].Name
	}
	h, _ := blake2b.New256(nil)
	return &Writer{
		arrayURI:   arrayURI,
		name:       name,
		schema:     sch,
		compressor: comp,
		checksum:   h,
		offsets:    make(map[string]int64),
		meta: Metadata{
			Version:    1,
			Dense:      !sch.Sparse,
			Compressor: compressorName,
			AttrOrder:  attrOrder,
		},
	}
}

// SetManager attaches the storage.Manager that Append/Finalize/Abort
// operate through.
func (w *Writer) SetManager(mgr storage.Manager) { w.mgr = mgr }

// Dir returns the fragment's current (in-progress, until Finalize)
// directory URI.
func (w *Writer) Dir() string {
	return strings.TrimSuffix(w.arrayURI, "/") + "/" + string(w.name)
}

func (w *Writer) compress(raw []byte) []byte {
	if w.compressor == nil || len(raw) == 0 {
		return raw
	}
	return w.compressor.Compress(raw, nil)
}

func (w *Writer) appendFile(ctx context.Context, file string, raw []byte) (Slot, error) {
	if len(raw) == 0 {
		return Slot{}, nil
	}
	full := w.Dir() + "/" + file
	payload := w.compress(raw)
	off := w.offsets[full]
	if err := w.mgr.Write(ctx, full, payload); err != nil {
		return Slot{}, fmt.Errorf("fragment: append %s: %w", full, err)
	}
	w.offsets[full] = off + int64(len(payload))
	w.checksum.Write(payload)
	return Slot{Offset: off, Size: int64(len(payload)), Raw: int64(len(raw))}, nil
}

// WriteTile compresses and appends p's payload to the fragment's
// attribute files and records a Tile descriptor for it.
func (w *Writer) WriteTile(ctx context.Context, p TilePayload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return fmt.Errorf("fragment: WriteTile after Finalize")
	}
	if len(p.Attrs) != len(w.meta.AttrOrder) {
		return fmt.Errorf("fragment: WriteTile: got %d attr payloads, want %d", len(p.Attrs), len(w.meta.AttrOrder))
	}
	t := Tile{
		MBR:       p.MBR.Clone(),
		TileCoord: append([]int64(nil), p.TileCoord...),
		CellCount: p.CellCount,
	}
	if !w.schema.Sparse {
		// dense fragments still record coords-less tiles
	} else {
		slot, err := w.appendFile(ctx, CoordsFileName, p.Coords)
		if err != nil {
			return err
		}
		t.Coords = slot
	}
	t.Attrs = make([]AttrSlot, len(p.Attrs))
	for i, name := range w.meta.AttrOrder {
		attr := w.schema.Attributes[i]
		valuesFile := AttrFileName(name)
		if attr.Variable() {
			valuesFile = AttrVarFileName(name)
			offSlot, err := w.appendFile(ctx, AttrFileName(name), p.Attrs[i].Offsets)
			if err != nil {
				return err
			}
			t.Attrs[i].Offsets = offSlot
		}
		valSlot, err := w.appendFile(ctx, valuesFile, p.Attrs[i].Values)
		if err != nil {
			return err
		}
		t.Attrs[i].Values = valSlot
	}
	w.meta.Tiles = append(w.meta.Tiles, t)
	if w.haveDomain {
		w.domain = w.domain.Union(p.MBR)
	} else {
		w.domain = p.MBR.Clone()
		w.haveDomain = true
	}
	return nil
}

// Finalize persists the fragment's metadata and publishes the
// fragment by atomically renaming its directory to strip the
// in-progress dot prefix -- this rename is the atomic publication
// point of a write fragment. Finalize is idempotent: calling it again
// after success is a no-op.
func (w *Writer) Finalize(ctx context.Context) (*Metadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return &w.meta, nil
	}
	seq, err := w.name.Seq()
	if err != nil {
		return nil, fmt.Errorf("fragment: Finalize: %w", err)
	}
	w.meta.Sequence = int64(seq)
	w.meta.Domain = w.domain
	w.meta.Checksum = hex.EncodeToString(w.checksum.Sum(nil))
	published := strings.TrimSuffix(w.arrayURI, "/") + "/" + string(w.name.Publish())
	w.meta.URI = published
	if err := w.meta.Validate(); err != nil {
		return nil, fmt.Errorf("fragment: Finalize: %w", err)
	}
	buf, err := w.meta.Encode()
	if err != nil {
		return nil, err
	}
	if err := w.mgr.Write(ctx, w.Dir()+"/"+MetadataFileName, buf); err != nil {
		return nil, fmt.Errorf("fragment: write metadata: %w", err)
	}
	if err := w.mgr.Move(ctx, w.Dir(), published); err != nil {
		return nil, fmt.Errorf("fragment: publish: %w", err)
	}
	w.finalized = true
	return &w.meta, nil
}

// Abort deletes the in-progress fragment directory, used for write
// rollback (ClearFragments, and the automatic rollback of a failed
// write). Abort after Finalize is a no-op since the in-progress
// directory no longer exists under its original name.
func (w *Writer) Abort(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return nil
	}
	return w.mgr.Remove(ctx, w.Dir())
}

// Metadata returns the fragment's metadata as built so far. It is
// only fully populated (URI, Domain, Sequence) after Finalize.
func (w *Writer) Metadata() *Metadata { return &w.meta }
