package storage

import "github.com/gear6io/stratum/pkg/errors"

// Storage error codes. Backends in subpackages raise the shared codes from
// pkg/errors directly so they do not import this package.
var (
	ErrUnavailable   = errors.StorageUnavailable
	ErrNotFound      = errors.StorageNotFound
	ErrAlreadyExists = errors.StorageAlreadyExists

	ErrUnsupportedBackend = errors.MustNewCode("storage.unsupported_backend")
	ErrInvalidPointer     = errors.MustNewCode("storage.invalid_pointer")
	ErrInvalidLocation    = errors.MustNewCode("storage.invalid_location")
)
