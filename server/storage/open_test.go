package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/storage/filesystem"
	"github.com/gear6io/stratum/server/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fio, root, err := Open(ctx, config.StorageConfig{Backend: config.BackendFilesystem, Warehouse: dir}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &filesystem.FileStorage{}, fio)
	assert.Equal(t, filepath.ToSlash(dir), root)

	fio, root, err = Open(ctx, config.StorageConfig{Backend: config.BackendMemory}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.MemoryStorage{}, fio)
	assert.Equal(t, "mem://warehouse", root)

	_, _, err = Open(ctx, config.StorageConfig{Backend: "tape"}, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))
}
