// Package table turns immutable metadata into a mutable table. Every change
// is an optimistic transaction: build new metadata on a base version, stage
// it under a fresh name and swap the table pointer from the base to it. A
// lost swap is retried on a refreshed base with bounded exponential backoff.
package table

import (
	"context"
	"strconv"
	"sync"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/storage"
	"github.com/rs/zerolog"
)

// Operations owns the pointer of one table. It caches the metadata version
// the pointer last resolved to and commits new versions against it.
type Operations struct {
	fio      storage.FileIO
	pointers storage.PointerStore
	root     string
	logger   zerolog.Logger

	mu       sync.RWMutex
	current  *metadata.Metadata
	location string
}

// NewOperations creates the metadata operations for the table rooted at root
func NewOperations(fio storage.FileIO, pointers storage.PointerStore, root string, logger zerolog.Logger) *Operations {
	return &Operations{
		fio:      fio,
		pointers: pointers,
		root:     root,
		logger:   logger.With().Str("component", "table_operations").Str("table", root).Logger(),
	}
}

// Root returns the table location
func (o *Operations) Root() string {
	return o.root
}

// FileIO returns the storage the table lives on
func (o *Operations) FileIO() storage.FileIO {
	return o.fio
}

// Current returns the cached metadata, nil before the first Refresh
func (o *Operations) Current() *metadata.Metadata {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// CurrentLocation is the metadata file Current was read from
func (o *Operations) CurrentLocation() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.location
}

// Refresh resolves the table pointer and loads the metadata it names. The
// metadata file is only read when the pointer moved.
func (o *Operations) Refresh(ctx context.Context) (*metadata.Metadata, error) {
	loc, err := o.pointers.Current(ctx, o.root)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	cached, cachedLoc := o.current, o.location
	o.mu.RUnlock()
	if cached != nil && loc == cachedLoc {
		return cached, nil
	}

	m, err := o.readMetadata(ctx, loc)
	if err != nil {
		return nil, err
	}
	o.setCurrent(m, loc)
	o.logger.Debug().Str("metadata_location", loc).Msg("Refreshed table metadata")
	return o.Current(), nil
}

func (o *Operations) readMetadata(ctx context.Context, loc string) (*metadata.Metadata, error) {
	data, err := o.fio.Read(ctx, loc)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.New(errors.CorruptMetadata, "table pointer names a missing metadata file", err).
				AddContext("location", loc)
		}
		return nil, err
	}
	m, err := metadata.ParseMetadata(data)
	if err != nil {
		if e := errors.AsError(err); e != nil {
			return nil, e.AddContext("location", loc)
		}
		return nil, err
	}
	return m, nil
}

// setCurrent keeps the newest version when refreshes and commits race
func (o *Operations) setCurrent(m *metadata.Metadata, loc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && storage.MetadataVersion(loc) < storage.MetadataVersion(o.location) {
		return
	}
	o.current, o.location = m, loc
}

// Commit stages updated as the version after base and swaps the table
// pointer to it. base is nil when the table is created. A lost swap removes
// the staged file and returns a commit conflict; base must be the version
// this Operations last loaded or committed.
func (o *Operations) Commit(ctx context.Context, base, updated *metadata.Metadata) (*metadata.Metadata, error) {
	o.mu.RLock()
	cur, curLoc := o.current, o.location
	o.mu.RUnlock()

	expected, version := "", 0
	if base != nil {
		if base != cur {
			return nil, errors.New(errors.CommitConflict, "base metadata is no longer current", nil).
				AddContext("table", o.root)
		}
		expected = curLoc
		version = max(storage.MetadataVersion(curLoc), 0) + 1

		var err error
		updated, err = metadata.NewBuilder(updated).AddPreviousMetadata(curLoc, base.LastUpdatedMs()).Build()
		if err != nil {
			return nil, err
		}
	}

	data, err := updated.MarshalJSON()
	if err != nil {
		return nil, errors.New(errors.CommonInternal, "failed to encode table metadata", err)
	}
	loc := storage.MetadataFileLocation(o.root, version)
	if err := o.fio.WriteNew(ctx, loc, data); err != nil {
		return nil, err
	}

	ok, err := o.pointers.Swap(ctx, o.root, expected, loc)
	if err != nil {
		// the swap may have landed before the failure surfaced
		if now, cerr := o.pointers.Current(ctx, o.root); cerr == nil && now == loc {
			o.setCurrent(updated, loc)
			return updated, nil
		}
		o.logger.Warn().Err(err).Str("metadata_location", loc).Msg("Commit outcome unknown, keeping staged metadata")
		return nil, errors.New(errors.StorageUnavailable, "failed to swap table pointer", err).
			AddContext("metadata_location", loc)
	}
	if !ok {
		if derr := o.fio.Delete(context.WithoutCancel(ctx), loc); derr != nil {
			o.logger.Warn().Err(derr).Str("metadata_location", loc).Msg("Failed to remove staged metadata")
		}
		o.logger.Debug().Str("expected", expected).Msg("Lost table pointer swap")
		return nil, errors.New(errors.CommitConflict, "table pointer moved since the base was read", nil).
			AddContext("table", o.root).
			AddContext("expected_location", expected).
			AddContext("version", strconv.Itoa(version))
	}

	o.setCurrent(updated, loc)
	o.logger.Debug().Int("version", version).Str("metadata_location", loc).Msg("Committed table metadata")
	return updated, nil
}
