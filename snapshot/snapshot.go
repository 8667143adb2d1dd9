// Package snapshot publishes index snapshot directories to a blob store
// and restores them.
//
// A published snapshot is a single archive blob holding every file of the
// snapshot directory (payload plus manifest), each entry individually
// compressed and checksummed. After the archive upload succeeds the
// CURRENT pointer in the store is updated, so readers always resolve a
// fully uploaded snapshot.
package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitharbor/annex/blobstore"
	"github.com/bitharbor/annex/internal/hash"
)

const (
	archiveMagic   = uint32(0x414E5853) // "ANXS"
	archiveVersion = uint32(1)

	// archiveHeaderSize covers magic, version, compression byte plus
	// padding, and entry count.
	archiveHeaderSize = 16

	// Prefix is the blob name prefix for snapshot archives.
	Prefix = "snapshots/"
)

// Options configures a Publisher.
type Options struct {
	// Compression applied to archive entries.
	Compression Compression

	// Limiter throttles archive bytes written to and read from the blob
	// store. Nil means unthrottled.
	Limiter *rate.Limiter
}

// Publisher archives snapshot directories into a blob store.
type Publisher struct {
	store blobstore.Store
	opts  Options
}

// NewPublisher creates a Publisher on top of the given store.
func NewPublisher(store blobstore.Store, optFns ...func(o *Options)) *Publisher {
	opts := Options{Compression: CompressionZSTD}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Publisher{store: store, opts: opts}
}

// Publish archives dir, uploads it and moves the CURRENT pointer to it.
// It returns the archive blob name.
func (p *Publisher) Publish(ctx context.Context, dir string) (string, error) {
	archive, err := p.buildArchive(ctx, dir)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s%d.snap", Prefix, time.Now().UnixNano())
	if err := p.store.Put(ctx, name, archive); err != nil {
		return "", fmt.Errorf("snapshot: upload archive: %w", err)
	}
	if err := p.store.Put(ctx, blobstore.CurrentPointer, []byte(name)); err != nil {
		return "", fmt.Errorf("snapshot: commit pointer: %w", err)
	}
	return name, nil
}

// Restore resolves the CURRENT pointer and unpacks the archive it names
// into dir. blobstore.ErrNotFound is returned when nothing was published.
func (p *Publisher) Restore(ctx context.Context, dir string) error {
	current, err := p.readBlob(ctx, blobstore.CurrentPointer)
	if err != nil {
		return err
	}
	archive, err := p.readBlob(ctx, string(current))
	if err != nil {
		return err
	}
	return unpackArchive(archive, dir)
}

// Prune deletes all published archives except the one CURRENT points to.
func (p *Publisher) Prune(ctx context.Context) (deleted int, err error) {
	current, err := p.readBlob(ctx, blobstore.CurrentPointer)
	if err != nil {
		return 0, err
	}

	names, err := p.store.List(ctx, Prefix)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if name == string(current) {
			continue
		}
		if err := p.store.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("snapshot: prune %s: %w", name, err)
		}
		deleted++
	}
	return deleted, nil
}

func (p *Publisher) readBlob(ctx context.Context, name string) ([]byte, error) {
	blob, err := p.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	if err := p.throttle(ctx, int(blob.Size())); err != nil {
		return nil, err
	}
	return blobstore.ReadAll(ctx, blob)
}

// throttle charges n bytes against the IO limiter.
func (p *Publisher) throttle(ctx context.Context, n int) error {
	if p.opts.Limiter == nil || n == 0 {
		return nil
	}
	burst := p.opts.Limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := p.opts.Limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// buildArchive serializes every regular file under dir into one archive.
func (p *Publisher) buildArchive(ctx context.Context, dir string) ([]byte, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: walk %s: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("snapshot: %s holds no files", dir)
	}
	sort.Strings(names)

	buf := make([]byte, archiveHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], archiveMagic)
	binary.LittleEndian.PutUint32(buf[4:], archiveVersion)
	buf[8] = byte(p.opts.Compression)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(names)))

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("snapshot: read %s: %w", name, err)
		}
		if err := p.throttle(ctx, len(data)); err != nil {
			return nil, err
		}

		stored, compressed, err := compressBlock(data, p.opts.Compression)
		if err != nil {
			return nil, err
		}

		entry := make([]byte, 2+len(name)+13)
		binary.LittleEndian.PutUint16(entry[0:], uint16(len(name)))
		copy(entry[2:], name)
		off := 2 + len(name)
		binary.LittleEndian.PutUint32(entry[off:], uint32(len(data)))
		binary.LittleEndian.PutUint32(entry[off+4:], uint32(len(stored)))
		binary.LittleEndian.PutUint32(entry[off+8:], hash.CRC32C(data))
		if compressed {
			entry[off+12] = 1
		}
		buf = append(buf, entry...)
		buf = append(buf, stored...)
	}
	return buf, nil
}

// unpackArchive writes the archive entries into dir, fsyncing each file.
func unpackArchive(archive []byte, dir string) error {
	if len(archive) < archiveHeaderSize {
		return fmt.Errorf("snapshot: archive truncated: %d bytes", len(archive))
	}
	if magic := binary.LittleEndian.Uint32(archive[0:]); magic != archiveMagic {
		return fmt.Errorf("snapshot: bad archive magic %08x", magic)
	}
	if version := binary.LittleEndian.Uint32(archive[4:]); version != archiveVersion {
		return fmt.Errorf("snapshot: unsupported archive version %d", version)
	}
	compression := Compression(archive[8])
	count := binary.LittleEndian.Uint32(archive[12:])

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	off := archiveHeaderSize
	for i := uint32(0); i < count; i++ {
		if off+2 > len(archive) {
			return fmt.Errorf("snapshot: archive truncated at entry %d", i)
		}
		nameLen := int(binary.LittleEndian.Uint16(archive[off:]))
		off += 2
		if off+nameLen+13 > len(archive) {
			return fmt.Errorf("snapshot: archive truncated at entry %d", i)
		}
		name := string(archive[off : off+nameLen])
		off += nameLen

		uncompressedSize := int(binary.LittleEndian.Uint32(archive[off:]))
		storedSize := int(binary.LittleEndian.Uint32(archive[off+4:]))
		checksum := binary.LittleEndian.Uint32(archive[off+8:])
		compressed := archive[off+12] == 1
		off += 13

		if off+storedSize > len(archive) {
			return fmt.Errorf("snapshot: archive truncated in entry %q", name)
		}
		stored := archive[off : off+storedSize]
		off += storedSize

		data, err := decompressBlock(stored, compression, compressed, uncompressedSize)
		if err != nil {
			return fmt.Errorf("snapshot: entry %q: %w", name, err)
		}
		if sum := hash.CRC32C(data); sum != checksum {
			return fmt.Errorf("snapshot: entry %q checksum mismatch: want %08x, got %08x", name, checksum, sum)
		}

		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("snapshot: create entry dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("snapshot: write entry %q: %w", name, err)
		}
	}
	return nil
}
