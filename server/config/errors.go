package config

import "github.com/gear6io/stratum/pkg/errors"

// Config-specific error codes
var (
	ErrConfigFileReadFailed    = errors.MustNewCode("config.file_read_failed")
	ErrConfigFileParseFailed   = errors.MustNewCode("config.file_parse_failed")
	ErrConfigValidationFailed  = errors.MustNewCode("config.validation_failed")
	ErrConfigFileMarshalFailed = errors.MustNewCode("config.file_marshal_failed")
	ErrConfigFileWriteFailed   = errors.MustNewCode("config.file_write_failed")
	ErrWarehouseRequired       = errors.MustNewCode("config.warehouse_required")
	ErrUnknownStorageBackend   = errors.MustNewCode("config.unknown_storage_backend")
	ErrUnknownCatalogType      = errors.MustNewCode("config.unknown_catalog_type")
	ErrMinioSettingsRequired   = errors.MustNewCode("config.minio_settings_required")
	ErrCatalogSettingsRequired = errors.MustNewCode("config.catalog_settings_required")
	ErrInvalidCommitSettings   = errors.MustNewCode("config.invalid_commit_settings")
	ErrInvalidManifestSettings = errors.MustNewCode("config.invalid_manifest_settings")
	ErrInvalidDataSettings     = errors.MustNewCode("config.invalid_data_settings")

	ErrLogDirectoryCreationFailed = errors.MustNewCode("config.log_directory_creation_failed")
	ErrLogFileOpenFailed          = errors.MustNewCode("config.log_file_open_failed")
	ErrLogFilePathRequired        = errors.MustNewCode("config.log_file_path_required")
	ErrLogFileStatFailed          = errors.MustNewCode("config.log_file_stat_failed")
	ErrLogRotationFailed          = errors.MustNewCode("config.log_rotation_failed")
	ErrLogCleanupFailed           = errors.MustNewCode("config.log_cleanup_failed")
	ErrLogFileWriterSetupFailed   = errors.MustNewCode("config.log_file_writer_setup_failed")
)
