package data

import "github.com/gear6io/stratum/pkg/errors"

// Package-specific error codes for data files
var (
	ErrUnsupportedType        = errors.MustNewCode("data.unsupported_type")
	ErrTypeMismatch           = errors.MustNewCode("data.type_mismatch")
	ErrInvalidRow             = errors.MustNewCode("data.invalid_row")
	ErrWriterClosed           = errors.MustNewCode("data.writer_closed")
	ErrWriteFailed            = errors.MustNewCode("data.write_failed")
	ErrReadFailed             = errors.MustNewCode("data.read_failed")
	ErrUnsupportedCompression = errors.MustNewCode("data.unsupported_compression")
)
