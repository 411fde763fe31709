package table

import "github.com/gear6io/stratum/pkg/errors"

var (
	ErrTableNotFound      = errors.MustNewCode("table.not_found")
	ErrTableAlreadyExists = errors.MustNewCode("table.already_exists")
	ErrUnknownSnapshot    = errors.MustNewCode("table.unknown_snapshot")
	ErrInvalidScan        = errors.MustNewCode("table.invalid_scan")
	ErrInvalidLocation    = errors.MustNewCode("table.invalid_location")
)
