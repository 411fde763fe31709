package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/storage/filesystem"
	"github.com/gear6io/stratum/server/storage/memory"
	"github.com/gear6io/stratum/server/storage/minio"
	"github.com/rs/zerolog"
)

// Open creates the FileIO for the configured backend and returns it with
// the warehouse root that table locations are built under.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (FileIO, string, error) {
	switch cfg.Backend {
	case filesystem.Type:
		root, err := filepath.Abs(cfg.Warehouse)
		if err != nil {
			return nil, "", errors.New(ErrInvalidLocation, "invalid warehouse path", err).AddContext("warehouse", cfg.Warehouse)
		}
		logger.Info().Str("backend", cfg.Backend).Str("warehouse", root).Msg("Opened storage")
		return filesystem.NewFileStorage(), filepath.ToSlash(root), nil

	case memory.Type:
		root := "mem://" + strings.Trim(cfg.Warehouse, "/")
		if root == "mem://" {
			root += "warehouse"
		}
		logger.Info().Str("backend", cfg.Backend).Str("warehouse", root).Msg("Opened storage")
		return memory.NewMemoryStorage(), root, nil

	case minio.Type:
		fs, err := minio.NewS3FileSystem(ctx, minio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, "", err
		}
		root := Join("s3://"+cfg.Minio.Bucket, cfg.Warehouse)
		logger.Info().Str("backend", cfg.Backend).Str("warehouse", root).Msg("Opened storage")
		return fs, root, nil
	}
	return nil, "", errors.Newf(ErrUnsupportedBackend, "unsupported storage backend %q", cfg.Backend)
}
