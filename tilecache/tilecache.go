// Package tilecache implements the tile cache/reader: it resolves an
// attribute name and an overlapping tile down to decompressed bytes,
// delegating byte-range reads to a storage.Manager and decompression
// to the configured codec. Tiles carry a reference count for consumers
// that share one. Cache itself keeps no tiles between calls: each
// ReadCoords/ReadAttr reads and decompresses the tile again, so a tile
// requested by two pipeline stages is fetched twice.
package tilecache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shubhampachori12110095/TileDB/compress"
	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/storage"
)

// Tile is one decompressed tile payload, shared by reference count
// between pipeline stages: the last releaser frees it.
type Tile struct {
	data []byte
	refs int32
}

// Bytes returns the tile's decompressed contents. The returned slice
// must not be retained past a matching Release.
func (t *Tile) Bytes() []byte { return t.data }

// Retain increments the tile's reference count; call it before
// handing the tile to an additional independent consumer.
func (t *Tile) Retain() { atomic.AddInt32(&t.refs, 1) }

// Release decrements the tile's reference count. A Go Tile has no
// external resource to free once unreferenced (unlike an mmap'd
// region), so Release below zero is reported as an internal error
// rather than silently ignored -- it indicates a pipeline stage
// double-released a tile.
func (t *Tile) Release() error {
	if n := atomic.AddInt32(&t.refs, -1); n < 0 {
		return fmt.Errorf("tilecache: Tile released more times than retained")
	}
	return nil
}

// TilePair is what Cache.ReadAttr returns: Offsets is non-nil only
// for variable-sized attributes.
type TilePair struct {
	Offsets *Tile
	Values  *Tile
}

// Cache loads and decompresses tile byte ranges on behalf of the
// read pipelines. It holds no tiles, so it has nothing to evict;
// callers that want to keep tiles should wrap Cache with their own
// LRU, the same layering
// sneller uses between blockfmt.CompressionReader (which knows how to
// decode one block) and its own higher-level prefetch/readahead
// policy (ion/blockfmt/prefetch.go).
type Cache struct {
	mgr storage.Manager
}

// New creates a Cache that reads tile bytes through mgr.
func New(mgr storage.Manager) *Cache { return &Cache{mgr: mgr} }

func (c *Cache) readSlot(ctx context.Context, uri string, slot fragment.Slot, codecName string) (*Tile, error) {
	if slot.Size == 0 {
		return &Tile{data: nil, refs: 1}, nil
	}
	raw, err := c.mgr.Read(ctx, uri, slot.Offset, slot.Size)
	if err != nil {
		return nil, fmt.Errorf("tilecache: read %s: %w", uri, err)
	}
	_, decomp := compress.Codec(codecName)
	if decomp == nil {
		if int64(len(raw)) != slot.Raw {
			return nil, fmt.Errorf("tilecache: %s: expected %d raw bytes, got %d uncompressed", uri, slot.Raw, len(raw))
		}
		return &Tile{data: raw, refs: 1}, nil
	}
	out := make([]byte, 0, slot.Raw)
	data, err := decomp.Decompress(raw, out)
	if err != nil {
		return nil, fmt.Errorf("tilecache: decompress %s: %w", uri, err)
	}
	if int64(len(data)) != slot.Raw {
		return nil, fmt.Errorf("tilecache: %s: expected %d raw bytes, got %d", uri, slot.Raw, len(data))
	}
	return &Tile{data: data, refs: 1}, nil
}

// ReadCoords loads the coordinates tile for meta.Tiles[tileIdx]. It
// is only valid for sparse fragments.
func (c *Cache) ReadCoords(ctx context.Context, meta *fragment.Metadata, tileIdx int) (*Tile, error) {
	t := &meta.Tiles[tileIdx]
	return c.readSlot(ctx, meta.CoordsURI(), t.Coords, meta.Compressor)
}

// ReadAttr loads the tile payload for attribute attrName within
// meta.Tiles[tileIdx]. Coordinates are served through the same path
// under schema.CoordsName.
func (c *Cache) ReadAttr(ctx context.Context, meta *fragment.Metadata, attrName string, tileIdx int) (TilePair, error) {
	if attrName == schema.CoordsName {
		coords, err := c.ReadCoords(ctx, meta, tileIdx)
		if err != nil {
			return TilePair{}, err
		}
		return TilePair{Values: coords}, nil
	}
	ai := meta.AttrIndex(attrName)
	if ai < 0 {
		return TilePair{}, fmt.Errorf("tilecache: unknown attribute %q in fragment %s", attrName, meta.URI)
	}
	t := &meta.Tiles[tileIdx]
	slot := t.Attrs[ai]
	var pair TilePair
	if slot.Offsets.Size > 0 || slot.Offsets.Raw > 0 {
		off, err := c.readSlot(ctx, meta.AttrURI(attrName), slot.Offsets, meta.Compressor)
		if err != nil {
			return TilePair{}, err
		}
		pair.Offsets = off
	}
	valuesURI := meta.AttrURI(attrName)
	if pair.Offsets != nil {
		valuesURI = meta.AttrVarURI(attrName)
	}
	vals, err := c.readSlot(ctx, valuesURI, slot.Values, meta.Compressor)
	if err != nil {
		return TilePair{}, err
	}
	pair.Values = vals
	return pair, nil
}
