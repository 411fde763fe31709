package metadata

import "github.com/gear6io/stratum/pkg/errors"

// Package-specific error codes for table metadata
var (
	ErrInvalidSummary     = errors.MustNewCode("metadata.invalid_summary")
	ErrUnknownSnapshot    = errors.MustNewCode("metadata.unknown_snapshot")
	ErrUnknownSchema      = errors.MustNewCode("metadata.unknown_schema")
	ErrUnknownSpec        = errors.MustNewCode("metadata.unknown_spec")
	ErrDuplicateSnapshot  = errors.MustNewCode("metadata.duplicate_snapshot")
	ErrInvalidSequence    = errors.MustNewCode("metadata.invalid_sequence")
	ErrUnsupportedVersion = errors.MustNewCode("metadata.unsupported_version")
	ErrInvalidProperty    = errors.MustNewCode("metadata.invalid_property")
)
