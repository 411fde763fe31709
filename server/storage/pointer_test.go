package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/storage/filesystem"
	"github.com/gear6io/stratum/server/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPointerStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	store := storage.NewLogPointerStore(fio, zerolog.Nop())
	root := "mem://wh/db/t"

	_, err := store.Current(ctx, root)
	assert.True(t, errors.IsNotFound(err))

	ok, err := store.Swap(ctx, root, "", root+"/metadata/00000-a.metadata.json")
	require.NoError(t, err)
	require.True(t, ok)

	// creating again loses: the pointer is no longer empty
	ok, err = store.Swap(ctx, root, "", root+"/metadata/00000-b.metadata.json")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Swap(ctx, root, root+"/metadata/00000-a.metadata.json", root+"/metadata/00001-c.metadata.json")
	require.NoError(t, err)
	require.True(t, ok)

	// stale expectation loses
	ok, err = store.Swap(ctx, root, root+"/metadata/00000-a.metadata.json", root+"/metadata/00001-d.metadata.json")
	require.NoError(t, err)
	assert.False(t, ok)

	cur, err := store.Current(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, root+"/metadata/00001-c.metadata.json", cur)

	history, err := store.History(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{root + "/metadata/00000-a.metadata.json", root + "/metadata/00001-c.metadata.json"}, history)

	_, err = store.Swap(ctx, root, cur, "")
	assert.True(t, errors.Is(err, storage.ErrInvalidPointer))
}

func TestLogPointerStoreOrdersVersionsNumerically(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	store := storage.NewLogPointerStore(fio, zerolog.Nop())
	root := "mem://wh/t"

	prev := ""
	for i := 1; i <= 12; i++ {
		next := fmt.Sprintf("%s/metadata/%05d.metadata.json", root, i)
		ok, err := store.Swap(ctx, root, prev, next)
		require.NoError(t, err)
		require.True(t, ok, "swap %d", i)
		prev = next
	}
	assert.True(t, fio.Exists(storage.PointerLocation(root, 12)))

	cur, err := store.Current(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, prev, cur)
}

func TestLogPointerStoreIgnoresOtherFiles(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	store := storage.NewLogPointerStore(fio, zerolog.Nop())
	root := "mem://wh/t"

	require.NoError(t, fio.WriteNew(ctx, root+"/metadata/00000-x.metadata.json", []byte("{}")))
	require.NoError(t, fio.WriteNew(ctx, root+"/metadata/vx.pointer", []byte("junk")))
	require.NoError(t, fio.WriteNew(ctx, root+"/metadata/v0.pointer", []byte("junk")))

	_, err := store.Current(ctx, root)
	assert.True(t, errors.IsNotFound(err))
}

func TestLogPointerStoreEmptyMarkerIsCorrupt(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	store := storage.NewLogPointerStore(fio, zerolog.Nop())

	require.NoError(t, fio.WriteNew(ctx, storage.PointerLocation("mem://t", 1), []byte("\n")))
	_, err := store.Current(ctx, "mem://t")
	assert.True(t, errors.IsCorruptMetadata(err))
}

func TestLogPointerStoreConcurrentSwaps(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLogPointerStore(filesystem.NewFileStorage(), zerolog.Nop())
	root := filepath.ToSlash(t.TempDir())

	ok, err := store.Swap(ctx, root, "", "base")
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	wins := make([]bool, 10)
	for i := range wins {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.Swap(ctx, root, "base", fmt.Sprintf("next-%d", i))
			assert.NoError(t, err)
			wins[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
