package snapshot

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression defines the algorithm applied to archive entries.
type Compression uint8

const (
	// CompressionNone stores entries uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, lighter ratio).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("snapshot: unknown compression %q", s)
	}
}

// Pooled zstd coders; both are safe for reuse via EncodeAll/DecodeAll.
var (
	zstdEncoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

// compressBlock compresses data with the given algorithm. A zero stored
// size on return means the block was left raw because compression did not
// help.
func compressBlock(data []byte, c Compression) (stored []byte, compressed bool, err error) {
	if c == CompressionNone || len(data) == 0 {
		return data, false, nil
	}

	switch c {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		var comp lz4.Compressor
		n, err := comp.CompressBlock(data, dst)
		if err != nil {
			return nil, false, fmt.Errorf("snapshot: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return data, false, nil
		}
		return dst[:n], true, nil

	case CompressionZSTD:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		defer zstdEncoderPool.Put(enc)
		out := enc.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return data, false, nil
		}
		return out, true, nil

	default:
		return nil, false, fmt.Errorf("snapshot: unknown compression %d", c)
	}
}

// decompressBlock reverses compressBlock. uncompressedSize must come from
// the archive entry header.
func decompressBlock(stored []byte, c Compression, compressed bool, uncompressedSize int) ([]byte, error) {
	if !compressed {
		return stored, nil
	}

	switch c {
	case CompressionLZ4:
		dst := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("snapshot: lz4 decompress size %d, want %d", n, uncompressedSize)
		}
		return dst, nil

	case CompressionZSTD:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd decompress: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, fmt.Errorf("snapshot: zstd decompress size %d, want %d", len(out), uncompressedSize)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", c)
	}
}
