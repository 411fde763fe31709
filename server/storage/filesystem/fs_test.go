package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorageReadWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewFileStorage()

	loc := filepath.ToSlash(filepath.Join(dir, "db", "t", "metadata", "00001.metadata.json"))
	require.NoError(t, fs.WriteNew(ctx, loc, []byte(`{"a":1}`)))

	data, err := fs.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	// file:// locations resolve to the same file
	data, err = fs.Read(ctx, "file://"+loc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = fs.Read(ctx, loc+".missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestFileStorageWriteNewIsExclusive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewFileStorage()
	loc := filepath.ToSlash(filepath.Join(dir, "v1.pointer"))

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = fs.WriteNew(ctx, loc, []byte{byte('a' + i)})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.IsAlreadyExists(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	// no temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStorageList(t *testing.T) {
	ctx := context.Background()
	dir := filepath.ToSlash(t.TempDir())
	fs := NewFileStorage()

	for _, name := range []string{"t/metadata/v2.pointer", "t/metadata/v1.pointer", "t/data/a.parquet", "u/metadata/v1.pointer"} {
		require.NoError(t, fs.WriteNew(ctx, dir+"/"+name, nil))
	}

	got, err := fs.List(ctx, dir+"/t/metadata/")
	require.NoError(t, err)
	assert.Equal(t, []string{dir + "/t/metadata/v1.pointer", dir + "/t/metadata/v2.pointer"}, got)

	got, err = fs.List(ctx, dir+"/t/metadata/v1")
	require.NoError(t, err)
	assert.Equal(t, []string{dir + "/t/metadata/v1.pointer"}, got)

	got, err = fs.List(ctx, dir+"/nothing/here/")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStorageDelete(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStorage()
	loc := filepath.ToSlash(filepath.Join(t.TempDir(), "x"))

	require.NoError(t, fs.WriteNew(ctx, loc, []byte("x")))
	require.NoError(t, fs.Delete(ctx, loc))
	require.NoError(t, fs.Delete(ctx, loc))
	assert.NoFileExists(t, loc)
}
