package manifest

import "github.com/gear6io/stratum/pkg/errors"

// Package-specific error codes for manifest handling
var (
	ErrEncodeFailed     = errors.MustNewCode("manifest.encode_failed")
	ErrInvalidEntry     = errors.MustNewCode("manifest.invalid_entry")
	ErrSpecMismatch     = errors.MustNewCode("manifest.spec_mismatch")
	ErrWriterClosed     = errors.MustNewCode("manifest.writer_closed")
	ErrMissingHeaderKey = errors.MustNewCode("manifest.missing_header_key")
)
