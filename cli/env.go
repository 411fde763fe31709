package cli

import (
	"context"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/catalog"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/data"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/table"
	"github.com/rs/zerolog"
)

var ErrInvalidArgument = errors.MustNewCode("cli.invalid_argument")

// env is what every command works against, opened once per invocation
type env struct {
	cfg       *config.Config
	fio       storage.FileIO
	warehouse string
	pointers  catalog.PointerStore
	tables    *table.Tables
	format    *data.Parquet
	logger    zerolog.Logger
}

func newEnv(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*env, error) {
	fio, warehouse, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	pointers, err := catalog.NewPointerStore(cfg, fio, logger)
	if err != nil {
		return nil, err
	}
	format, err := data.NewParquet(cfg.Data)
	if err != nil {
		pointers.Close()
		return nil, err
	}
	return &env{
		cfg:       cfg,
		fio:       fio,
		warehouse: warehouse,
		pointers:  pointers,
		tables:    table.NewTables(fio, pointers, table.OptionsFromConfig(cfg), logger),
		format:    format,
		logger:    logger,
	}, nil
}

func (e *env) Close() error {
	return e.pointers.Close()
}

// location resolves a table argument: a full location is used as is, a
// dotted name like db.events lives under the warehouse
func (e *env) location(name string) (string, error) {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "://") || strings.HasPrefix(name, "/") {
		return name, nil
	}
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return "", errors.Newf(ErrInvalidArgument, "invalid table name %q", name)
		}
	}
	pm := storage.NewPathManager(e.warehouse)
	return pm.GetTablePath(parts[:len(parts)-1], parts[len(parts)-1]), nil
}

func (e *env) load(ctx context.Context, name string) (*table.Table, error) {
	loc, err := e.location(name)
	if err != nil {
		return nil, err
	}
	return e.tables.Load(ctx, loc)
}
