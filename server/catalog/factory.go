// Package catalog selects where table metadata pointers live: next to the
// table in object storage, in SQLite, or in ZooKeeper.
package catalog

import (
	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/catalog/sqlite"
	"github.com/gear6io/stratum/server/catalog/zookeeper"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/storage"
	"github.com/rs/zerolog"
)

// PointerStore is a storage.PointerStore holding resources until closed
type PointerStore interface {
	storage.PointerStore
	Close() error
}

var (
	_ PointerStore = (*storage.LogPointerStore)(nil)
	_ PointerStore = (*sqlite.PointerStore)(nil)
	_ PointerStore = (*zookeeper.PointerStore)(nil)
)

// NewPointerStore creates the pointer store named by the configuration.
// The storage catalog keeps pointers on fio itself.
func NewPointerStore(cfg *config.Config, fio storage.FileIO, logger zerolog.Logger) (PointerStore, error) {
	catalogType := cfg.GetCatalogType()
	logger.Info().Str("catalog_type", catalogType).Msg("Opening pointer store")

	switch catalogType {
	case config.CatalogStorage:
		return storage.NewLogPointerStore(fio, logger), nil
	case config.CatalogSQLite:
		return sqlite.Open(cfg.Catalog.SQLitePath, logger)
	case config.CatalogZooKeeper:
		zc := cfg.Catalog.ZooKeeper
		return zookeeper.Connect(zc.Servers, zc.Root, zc.SessionTimeout, logger)
	default:
		return nil, errors.New(ErrUnsupportedCatalogType, "unsupported catalog type", nil).AddContext("catalog_type", catalogType)
	}
}
