package sqlite

import "github.com/gear6io/stratum/pkg/errors"

// SQLite pointer store error codes. Query failures at runtime surface as
// storage.unavailable so that the commit loop retries them.
var (
	ErrCatalogDirectoryCreateFailed = errors.MustNewCode("sqlite.directory_create_failed")
	ErrDatabaseOpenFailed           = errors.MustNewCode("sqlite.database_open_failed")
	ErrDatabaseInitFailed           = errors.MustNewCode("sqlite.database_init_failed")
	ErrDatabaseCloseFailed          = errors.MustNewCode("sqlite.database_close_failed")
)
