package manifest

// Avro schemas of the manifest and manifest list containers. Maps and
// optional values are written as arrays of records and explicit flags so
// readers need no union handling.

const (
	// ManifestEntrySchema is the record schema of one manifest entry
	ManifestEntrySchema = `{
		"type": "record",
		"name": "manifest_entry",
		"fields": [
			{"name": "status", "type": "int", "field-id": 0, "doc": "0 = existing, 1 = added, 2 = deleted"},
			{"name": "snapshot_id", "type": "long", "field-id": 1},
			{"name": "sequence_number", "type": "long", "field-id": 3, "doc": "0 = inherit from manifest"},
			{
				"name": "data_file",
				"field-id": 2,
				"type": {
					"type": "record",
					"name": "data_file",
					"fields": [
						{"name": "file_path", "type": "string", "field-id": 100},
						{"name": "file_format", "type": "string", "field-id": 101},
						{
							"name": "partition",
							"field-id": 102,
							"type": {
								"type": "array",
								"items": {
									"type": "record",
									"name": "partition_value",
									"fields": [
										{"name": "field_id", "type": "int"},
										{"name": "is_null", "type": "boolean"},
										{"name": "value", "type": "bytes"}
									]
								}
							}
						},
						{"name": "record_count", "type": "long", "field-id": 103},
						{"name": "file_size_in_bytes", "type": "long", "field-id": 104},
						{
							"name": "value_counts",
							"field-id": 109,
							"type": {
								"type": "array",
								"items": {
									"type": "record",
									"name": "k_count",
									"fields": [
										{"name": "key", "type": "int"},
										{"name": "value", "type": "long"}
									]
								}
							}
						},
						{"name": "null_value_counts", "field-id": 110, "type": {"type": "array", "items": "k_count"}},
						{
							"name": "lower_bounds",
							"field-id": 125,
							"type": {
								"type": "array",
								"items": {
									"type": "record",
									"name": "k_bound",
									"fields": [
										{"name": "key", "type": "int"},
										{"name": "value", "type": "bytes"}
									]
								}
							}
						},
						{"name": "upper_bounds", "field-id": 128, "type": {"type": "array", "items": "k_bound"}}
					]
				}
			}
		]
	}`

	// ManifestFileSchema is the record schema of one manifest list entry
	ManifestFileSchema = `{
		"type": "record",
		"name": "manifest_file",
		"fields": [
			{"name": "manifest_path", "type": "string", "field-id": 500},
			{"name": "manifest_length", "type": "long", "field-id": 501},
			{"name": "partition_spec_id", "type": "int", "field-id": 502},
			{"name": "content", "type": "int", "field-id": 517, "doc": "0 = data"},
			{"name": "sequence_number", "type": "long", "field-id": 515},
			{"name": "min_sequence_number", "type": "long", "field-id": 516},
			{"name": "added_snapshot_id", "type": "long", "field-id": 503},
			{"name": "added_files_count", "type": "int", "field-id": 504},
			{"name": "existing_files_count", "type": "int", "field-id": 505},
			{"name": "deleted_files_count", "type": "int", "field-id": 506},
			{"name": "added_rows_count", "type": "long", "field-id": 512},
			{"name": "existing_rows_count", "type": "long", "field-id": 513},
			{"name": "deleted_rows_count", "type": "long", "field-id": 514},
			{
				"name": "partitions",
				"field-id": 507,
				"type": {
					"type": "array",
					"items": {
						"type": "record",
						"name": "field_summary",
						"fields": [
							{"name": "contains_null", "type": "boolean", "field-id": 509},
							{"name": "has_lower_bound", "type": "boolean"},
							{"name": "lower_bound", "type": "bytes", "field-id": 510},
							{"name": "has_upper_bound", "type": "boolean"},
							{"name": "upper_bound", "type": "bytes", "field-id": 511}
						]
					}
				}
			}
		]
	}`
)

// Header keys of manifest and manifest list containers
const (
	headerSchema           = "schema"
	headerSchemaID         = "schema-id"
	headerPartitionSpec    = "partition-spec"
	headerPartitionSpecID  = "partition-spec-id"
	headerFormatVersion    = "format-version"
	headerContent          = "content"
	headerSnapshotID       = "snapshot-id"
	headerParentSnapshotID = "parent-snapshot-id"
	headerSequenceNumber   = "sequence-number"
)
