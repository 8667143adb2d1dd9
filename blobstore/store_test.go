package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests exercises the Store contract against an implementation.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("put open read", func(t *testing.T) {
		s := open(t)
		data := []byte("snapshot payload bytes")
		require.NoError(t, s.Put(ctx, "snapshots/0001.tar", data))

		b, err := s.Open(ctx, "snapshots/0001.tar")
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, int64(len(data)), b.Size())
		got, err := ReadAll(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("read at offset", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "blob", []byte("0123456789")))

		b, err := s.Open(ctx, "blob")
		require.NoError(t, err)
		defer b.Close()

		buf := make([]byte, 4)
		n, err := b.ReadAt(ctx, buf, 3)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []byte("3456"), buf)
	})

	t.Run("streaming create", func(t *testing.T) {
		s := open(t)
		w, err := s.Create(ctx, "streamed")
		require.NoError(t, err)
		_, err = w.Write([]byte("part one "))
		require.NoError(t, err)
		_, err = w.Write([]byte("part two"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		b, err := s.Open(ctx, "streamed")
		require.NoError(t, err)
		defer b.Close()
		got, err := ReadAll(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, []byte("part one part two"), got)
	})

	t.Run("open missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Open(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "gone", []byte("x")))
		require.NoError(t, s.Delete(ctx, "gone"))
		_, err := s.Open(ctx, "gone")
		require.ErrorIs(t, err, ErrNotFound)

		// Deleting a missing blob is not an error.
		require.NoError(t, s.Delete(ctx, "gone"))
	})

	t.Run("list by prefix", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, "snapshots/0001.tar", []byte("a")))
		require.NoError(t, s.Put(ctx, "snapshots/0002.tar", []byte("b")))
		require.NoError(t, s.Put(ctx, CurrentPointer, []byte("snapshots/0002.tar")))

		names, err := s.List(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/0001.tar", "snapshots/0002.tar"}, names)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("overwrite is atomic replace", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, CurrentPointer, []byte("old")))
		require.NoError(t, s.Put(ctx, CurrentPointer, []byte("new")))

		b, err := s.Open(ctx, CurrentPointer)
		require.NoError(t, err)
		defer b.Close()
		got, err := ReadAll(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestLocalStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}
