package fragment

import (
	"context"
	"fmt"

	"github.com/shubhampachori12110095/TileDB/storage"
)

// Load reads and decodes the metadata of the published fragment at
// uri, specialized to a single fragment; query.Init calls this once
// per fragment URI returned by storage.FragmentLister.
func Load(ctx context.Context, mgr storage.Manager, uri string) (*Metadata, error) {
	// fragment directories are small; __fragment_metadata.tdb is
	// read whole rather than through the tile-cache path since it is
	// consulted before any tile can be addressed. Its size is not
	// known up front, so a generous upper bound is probed; Manager
	// implementations clamp an over-long read to the file's actual
	// size (see storage/localfs.Manager.Read).
	const probe = 1 << 20
	full := uri + "/" + MetadataFileName
	buf, err := mgr.Read(ctx, full, 0, probe)
	if err != nil {
		return nil, fmt.Errorf("fragment: load metadata %s: %w", uri, err)
	}
	m, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	return m, nil
}
