package table

import (
	"context"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/rs/zerolog"
)

// Tables creates and loads tables by location
type Tables struct {
	fio      storage.FileIO
	pointers storage.PointerStore
	opts     Options
	logger   zerolog.Logger
}

// NewTables creates a table factory over fio and pointers
func NewTables(fio storage.FileIO, pointers storage.PointerStore, opts Options, logger zerolog.Logger) *Tables {
	return &Tables{
		fio:      fio,
		pointers: pointers,
		opts:     opts,
		logger:   logger.With().Str("component", "tables").Logger(),
	}
}

func normalizeLocation(location string) (string, error) {
	loc := strings.TrimRight(strings.TrimSpace(location), "/")
	if loc == "" {
		return "", errors.New(ErrInvalidLocation, "table location is required", nil)
	}
	return loc, nil
}

// Create writes the first metadata version of a new table. It fails with
// ErrTableAlreadyExists when the location already holds a table.
func (ts *Tables) Create(ctx context.Context, sch *schema.Schema, spec partition.Spec, location string, props map[string]string) (*Table, error) {
	loc, err := normalizeLocation(location)
	if err != nil {
		return nil, err
	}
	m, err := metadata.NewMetadata(sch, spec, loc, props)
	if err != nil {
		return nil, err
	}

	ops := NewOperations(ts.fio, ts.pointers, loc, ts.logger)
	if _, err := ops.Commit(ctx, nil, m); err != nil {
		if errors.IsCommitConflict(err) {
			return nil, errors.New(ErrTableAlreadyExists, "table already exists", err).AddContext("location", loc)
		}
		return nil, err
	}
	ts.logger.Info().
		Str("location", loc).
		Str("table_uuid", m.TableUUID().String()).
		Int("columns", len(sch.FieldIDs())).
		Msg("Created table")
	return newTable(ops, ts.opts, ts.logger), nil
}

// Load reads the current metadata version of the table at location
func (ts *Tables) Load(ctx context.Context, location string) (*Table, error) {
	loc, err := normalizeLocation(location)
	if err != nil {
		return nil, err
	}
	ops := NewOperations(ts.fio, ts.pointers, loc, ts.logger)
	if _, err := ops.Refresh(ctx); err != nil {
		if errors.Is(err, errors.StorageNotFound) && !errors.IsCorruptMetadata(err) {
			return nil, errors.New(ErrTableNotFound, "table does not exist", err).AddContext("location", loc)
		}
		return nil, err
	}
	return newTable(ops, ts.opts, ts.logger), nil
}

// Exists reports whether a table is registered at location
func (ts *Tables) Exists(ctx context.Context, location string) (bool, error) {
	loc, err := normalizeLocation(location)
	if err != nil {
		return false, err
	}
	if _, err := ts.pointers.Current(ctx, loc); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
