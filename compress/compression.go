// Package compress wraps the tile compression codec behind a small
// named interface, the same shape sneller's compr package wraps
// zstd/s2 (compr/compression.go). It is kept separate from package
// tilecache (which needs package fragment's metadata types) and
// package fragment (which needs a compressor to append tiles with),
// since each of those packages needing this one would otherwise
// import each other.
package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compressor and Decompressor wrap a single third-party codec behind
// a name. The query core only ever needs zstd, so we keep just that
// one algorithm rather than reimplementing the whole
// compr.Compression/Decompression switch.
type Compressor interface {
	Name() string
	Compress(src, dst []byte) []byte
}

type Decompressor interface {
	Name() string
	Decompress(src, dst []byte) ([]byte, error)
}

type zstdCodec struct{}

var (
	zstdEncoder     *zstd.Encoder
	zstdEncoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderOnce sync.Once
)

func encoder() *zstd.Encoder {
	zstdEncoderOnce.Do(func() {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		zstdEncoder = e
	})
	return zstdEncoder
}

func decoder() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		d, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		zstdDecoder = d
	})
	return zstdDecoder
}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(src, dst []byte) []byte {
	return encoder().EncodeAll(src, dst)
}

func (zstdCodec) Decompress(src, dst []byte) ([]byte, error) {
	out, err := decoder().DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decompress: %w", err)
	}
	return out, nil
}

// Codec selects a compression algorithm by name. The empty string (or
// "none") means tiles are stored uncompressed.
func Codec(name string) (Compressor, Decompressor) {
	switch name {
	case "zstd":
		c := zstdCodec{}
		return c, c
	case "", "none":
		return nil, nil
	default:
		return nil, nil
	}
}
