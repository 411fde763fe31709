package metadata

import "strconv"

// Table properties read by the commit path
const (
	PropertyCommitNumRetries     = "commit.retry.num-retries"
	PropertyCommitMinWaitMs      = "commit.retry.min-wait-ms"
	PropertyCommitMaxWaitMs      = "commit.retry.max-wait-ms"
	PropertyManifestMergeEnabled = "commit.manifest-merge.enabled"
	PropertyManifestTargetSize   = "commit.manifest.target-size-bytes"
	PropertyManifestMinMerge     = "commit.manifest.min-count-to-merge"
	PropertyPreviousVersionsMax  = "write.metadata.previous-versions-max"
	PropertyDefaultFileFormat    = "write.format.default"

	DefaultPreviousVersionsMax = 100
)

// Property returns a table property or def when unset
func (m *Metadata) Property(key, def string) string {
	if v, ok := m.properties[key]; ok {
		return v
	}
	return def
}

// PropertyInt returns an integer property, falling back to def when unset
// or malformed.
func (m *Metadata) PropertyInt(key string, def int64) int64 {
	v, ok := m.properties[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (m *Metadata) PropertyBool(key string, def bool) bool {
	v, ok := m.properties[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
