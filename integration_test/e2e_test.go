// Package integration_test exercises the full service stack end to end:
// config-built services over the file-backed vector log, the SQLite id
// map, and both index backends.
package integration_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitharbor/annex"
	"github.com/bitharbor/annex/config"
	"github.com/bitharbor/annex/testutil"
)

func buildService(t *testing.T, dir, backend string) *annex.Service {
	t.Helper()

	cfg := config.Default()
	cfg.Dimension = 16
	cfg.DataDir = dir
	cfg.Index.Backend = backend
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Local.Dir = filepath.Join(dir, "snapshots")
	cfg.Logging.Format = "none"

	svc, err := config.Build(context.Background(), cfg)
	require.NoError(t, err)
	return svc
}

func TestLifecycle(t *testing.T) {
	for _, backend := range []string{config.BackendHNSW, config.BackendDiskGraph} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			svc := buildService(t, dir, backend)
			defer svc.Close()

			basis := testutil.NearOrthogonalBasis(16, 16, 0.05)
			for i, vec := range basis {
				rowID, _, err := svc.AddEmbedding(ctx, fmt.Sprintf("movie-%02d", i), vec)
				require.NoError(t, err)
				assert.Equal(t, uint32(i), rowID)
			}

			// Every vector finds itself first.
			for i, vec := range basis {
				matches, err := svc.Search(ctx, vec, 1)
				require.NoError(t, err)
				require.Len(t, matches, 1)
				assert.Equal(t, fmt.Sprintf("movie-%02d", i), matches[0].MediaID)
			}

			// Re-ingest is idempotent.
			rowID, _, err := svc.AddEmbedding(ctx, "movie-03", basis[3])
			require.NoError(t, err)
			assert.Equal(t, uint32(3), rowID)

			// Deletes hide rows from results.
			freed, err := svc.DeleteMedia(ctx, "movie-05")
			require.NoError(t, err)
			assert.Equal(t, 1, freed)

			matches, err := svc.Search(ctx, basis[5], 16)
			require.NoError(t, err)
			for _, m := range matches {
				assert.NotEqual(t, "movie-05", m.MediaID)
			}

			// Snapshots round-trip through the local blob store.
			name, err := svc.PublishSnapshot(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, name)
			require.NoError(t, svc.RestoreSnapshot(ctx))

			matches, err = svc.Search(ctx, basis[7], 1)
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, "movie-07", matches[0].MediaID)
		})
	}
}

func TestReopenPersistsCatalog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	basis := testutil.NearOrthogonalBasis(8, 16, 0.05)

	svc := buildService(t, dir, config.BackendHNSW)
	for i, vec := range basis {
		_, _, err := svc.AddEmbedding(ctx, fmt.Sprintf("movie-%02d", i), vec)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Close())

	// A fresh service over the same data dir sees every row: the vector
	// log and the id map survive on disk, and construction self-heals
	// the index from the log.
	svc = buildService(t, dir, config.BackendHNSW)
	defer svc.Close()

	for i, vec := range basis {
		matches, err := svc.Search(ctx, vec, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, fmt.Sprintf("movie-%02d", i), matches[0].MediaID)
	}

	// Dedup state survives too.
	rowID, _, err := svc.AddEmbedding(ctx, "movie-02", basis[2])
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rowID)
}

func TestConcurrentSearches(t *testing.T) {
	ctx := context.Background()
	svc := buildService(t, t.TempDir(), config.BackendHNSW)
	defer svc.Close()

	basis := testutil.NearOrthogonalBasis(16, 16, 0.05)
	for i, vec := range basis {
		_, _, err := svc.AddEmbedding(ctx, fmt.Sprintf("movie-%02d", i), vec)
		require.NoError(t, err)
	}

	done := make(chan error, 8)
	for w := 0; w < 8; w++ {
		go func(w int) {
			for i := 0; i < 50; i++ {
				vec := basis[(w+i)%len(basis)]
				if _, err := svc.Search(ctx, vec, 3); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(w)
	}
	for w := 0; w < 8; w++ {
		require.NoError(t, <-done)
	}
}
