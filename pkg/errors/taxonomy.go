package errors

// Error categories surfaced by the table engine. Each category is a code
// package; individual codes name the precise condition.
const (
	SchemaEvolutionPackage = "schema"
	PartitionSpecPackage   = "partition"
	ValidationPackage      = "validation"
)

var (
	// CommitConflict means another writer won the pointer swap; the caller may retry.
	CommitConflict = MustNewCode("commit.conflict")
	// CorruptMetadata means a metadata, manifest or manifest list object could not be decoded.
	CorruptMetadata = MustNewCode("metadata.corrupt")
	// StorageUnavailable is a transient storage failure.
	StorageUnavailable = MustNewCode("storage.unavailable")
	// StorageNotFound means an object does not exist at the location.
	StorageNotFound = MustNewCode("storage.not_found")
	// StorageAlreadyExists means a create-if-absent write found an object in place.
	StorageAlreadyExists = MustNewCode("storage.already_exists")

	SchemaDuplicateName      = MustNewCode("schema.duplicate_name")
	SchemaUnknownField       = MustNewCode("schema.unknown_field")
	SchemaIllegalPromotion   = MustNewCode("schema.illegal_promotion")
	SchemaIllegalRequirement = MustNewCode("schema.illegal_requirement")
	SchemaInvalid            = MustNewCode("schema.invalid")

	PartitionInvalidSpec      = MustNewCode("partition.invalid_spec")
	PartitionUnknownSource    = MustNewCode("partition.unknown_source")
	PartitionInvalidTransform = MustNewCode("partition.invalid_transform")

	ValidationMissingFile     = MustNewCode("validation.missing_file")
	ValidationConflictingFile = MustNewCode("validation.conflicting_file")
	ValidationInvalidUpdate   = MustNewCode("validation.invalid_update")
)

// IsCommitConflict reports a lost optimistic commit
func IsCommitConflict(err error) bool {
	return Is(err, CommitConflict)
}

// IsSchemaEvolution reports any rejected schema change
func IsSchemaEvolution(err error) bool {
	return HasPackage(err, SchemaEvolutionPackage)
}

// IsPartitionSpec reports an invalid partition spec or transform
func IsPartitionSpec(err error) bool {
	return HasPackage(err, PartitionSpecPackage)
}

// IsValidation reports an operation rejected against the current table state
func IsValidation(err error) bool {
	return HasPackage(err, ValidationPackage)
}

func IsCorruptMetadata(err error) bool {
	return Is(err, CorruptMetadata)
}

func IsStorageUnavailable(err error) bool {
	return Is(err, StorageUnavailable)
}

func IsNotFound(err error) bool {
	return Is(err, StorageNotFound) || Is(err, CommonNotFound)
}

func IsAlreadyExists(err error) bool {
	return Is(err, StorageAlreadyExists) || Is(err, CommonAlreadyExists)
}

// IsRetryable reports errors that a commit loop should retry after refreshing
func IsRetryable(err error) bool {
	return IsCommitConflict(err) || IsStorageUnavailable(err)
}
