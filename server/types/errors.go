package types

import "github.com/gear6io/stratum/pkg/errors"

var (
	ErrUnsupportedType  = errors.MustNewCode("types.unsupported_type")
	ErrInvalidType      = errors.MustNewCode("types.invalid_type")
	ErrInvalidLiteral   = errors.MustNewCode("types.invalid_literal")
	ErrInvalidBytes     = errors.MustNewCode("types.invalid_bytes")
	ErrLiteralOutOfRange = errors.MustNewCode("types.literal_out_of_range")
)
