package table

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// losingPointers loses every swap after the first create
type losingPointers struct {
	storage.PointerStore
	lose  atomic.Bool
	swaps atomic.Int32
}

func (p *losingPointers) Swap(ctx context.Context, root, expected, next string) (bool, error) {
	if p.lose.Load() {
		p.swaps.Add(1)
		return false, nil
	}
	return p.PointerStore.Swap(ctx, root, expected, next)
}

// flakyPointers fails swaps with an error after applying or dropping them
type flakyPointers struct {
	storage.PointerStore
	failures atomic.Int32
	apply    bool
}

func (p *flakyPointers) Swap(ctx context.Context, root, expected, next string) (bool, error) {
	if p.failures.Add(-1) >= 0 {
		if p.apply {
			if _, err := p.PointerStore.Swap(ctx, root, expected, next); err != nil {
				return false, err
			}
		}
		return false, errors.New(errors.StorageUnavailable, "connection reset", nil)
	}
	return p.PointerStore.Swap(ctx, root, expected, next)
}

// flakyIO fails the next writes with a transient error
type flakyIO struct {
	*memory.MemoryStorage
	failWrites atomic.Int32
}

func (f *flakyIO) WriteNew(ctx context.Context, loc string, data []byte) error {
	if f.failWrites.Add(-1) >= 0 {
		return errors.New(errors.StorageUnavailable, "throttled", nil).AddContext("path", loc)
	}
	return f.MemoryStorage.WriteNew(ctx, loc, data)
}

func TestRetryExhaustionReportsConflict(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	pointers := &losingPointers{PointerStore: storage.NewLogPointerStore(fio, zerolog.Nop())}
	tables := newTestTables(t, fio, pointers)
	tbl, err := tables.Create(ctx, testSchema(), identitySpec(t), testLocation, nil)
	require.NoError(t, err)
	before := fio.Len()

	pointers.lose.Store(true)
	app := tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1))
	_, err = app.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCommitConflict(err))
	assert.Equal(t, int32(4), pointers.swaps.Load())

	details := errors.GetContext(err)
	assert.Equal(t, "none", details["base_snapshot_id"])
	assert.NotEmpty(t, details["attempted_snapshot_id"])

	// staged metadata, manifests and manifest lists are all gone
	assert.Equal(t, before, fio.Len())
	assert.Nil(t, tbl.CurrentSnapshot())
}

func TestNumRetriesProperty(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	pointers := &losingPointers{PointerStore: storage.NewLogPointerStore(fio, zerolog.Nop())}
	tables := newTestTables(t, fio, pointers)
	tbl, err := tables.Create(ctx, testSchema(), identitySpec(t), testLocation, map[string]string{
		metadata.PropertyCommitNumRetries: "0",
	})
	require.NoError(t, err)

	pointers.lose.Store(true)
	_, err = tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1)).Commit(ctx)
	assert.True(t, errors.IsCommitConflict(err))
	assert.Equal(t, int32(1), pointers.swaps.Load())
}

func TestTransientWriteFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	fio := &flakyIO{MemoryStorage: memory.NewMemoryStorage()}
	tables := newTestTables(t, fio, storage.NewLogPointerStore(fio, zerolog.Nop()))
	tbl, err := tables.Create(ctx, testSchema(), identitySpec(t), testLocation, nil)
	require.NoError(t, err)

	fio.failWrites.Store(2)
	snap, err := tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1)).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, tbl.CurrentSnapshot().ID)

	tasks, err := tbl.NewScan().PlanTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestUnknownSwapOutcomeResolvedByPointer(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	pointers := &flakyPointers{PointerStore: storage.NewLogPointerStore(fio, zerolog.Nop()), apply: true}
	tables := newTestTables(t, fio, pointers)
	tbl, err := tables.Create(ctx, testSchema(), identitySpec(t), testLocation, nil)
	require.NoError(t, err)

	pointers.failures.Store(1)
	snap, err := tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1)).Commit(ctx)
	require.NoError(t, err)

	tables2 := newTestTables(t, fio, pointers)
	reloaded, err := tables2.Load(ctx, testLocation)
	require.NoError(t, err)
	assert.Len(t, reloaded.Snapshots(), 1)
	assert.Equal(t, snap.ID, reloaded.CurrentSnapshot().ID)
}

func TestFailedSwapIsRetried(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	pointers := &flakyPointers{PointerStore: storage.NewLogPointerStore(fio, zerolog.Nop())}
	tables := newTestTables(t, fio, pointers)
	tbl, err := tables.Create(ctx, testSchema(), identitySpec(t), testLocation, nil)
	require.NoError(t, err)

	pointers.failures.Store(1)
	_, err = tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1)).Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, tbl.Snapshots(), 1)
}

func TestCommitCanceled(t *testing.T) {
	_, _, tbl := createTable(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1)).Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CommonCanceled))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaleBaseIsConflict(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	base := tbl.Metadata()

	_, err := tbl.NewAppend().AppendFile(dataFile(tbl, "a", "a", 1)).Commit(ctx)
	require.NoError(t, err)

	_, err = tbl.Operations().Commit(ctx, base, base)
	assert.True(t, errors.IsCommitConflict(err))
}

func TestNewRetryConfig(t *testing.T) {
	base := DefaultOptions().Commit
	cfg := NewRetryConfig(base, nil)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.BaseDelay)

	m, err := metadata.NewMetadata(testSchema(), identitySpec(t), testLocation, map[string]string{
		metadata.PropertyCommitNumRetries: "9",
		metadata.PropertyCommitMinWaitMs:  "5",
		metadata.PropertyCommitMaxWaitMs:  "50",
	})
	require.NoError(t, err)
	cfg = NewRetryConfig(base, m)
	assert.Equal(t, 10, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.MaxDelay)
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		func(ctx context.Context, attempt int) error {
			calls++
			return errors.New(errors.ValidationMissingFile, "gone", nil)
		}, zerolog.Nop())
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 1, calls)
}
