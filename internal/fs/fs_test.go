package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFaultyFS_FailAfterBytes(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.SetFault(Fault{FailAfterBytes: 8})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "data"), os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("12345678"))
	require.NoError(t, err)

	_, err = f.Write([]byte("9"))
	require.ErrorIs(t, err, ErrInjected)
}

func TestFaultyFS_FailOnSync(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.SetFault(Fault{FailAfterBytes: -1, FailOnSync: true})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "data"), os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("ok"))
	require.NoError(t, err)
	require.ErrorIs(t, f.Sync(), ErrInjected)
}

func TestFaultyFS_NoFaultPassthrough(t *testing.T) {
	ffs := NewFaultyFS(nil)

	path := filepath.Join(t.TempDir(), "data")
	f, err := ffs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}
