package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "s3://b/wh/db/t", Join("s3://b/wh/", "db", "/t/"))
	assert.Equal(t, "/tmp/wh/t/metadata", Join("/tmp/wh", "t", "", "metadata"))
}

func TestPathManager(t *testing.T) {
	pm := NewPathManager("/tmp/wh/")
	assert.Equal(t, "/tmp/wh", pm.GetBasePath())
	assert.Equal(t, "/tmp/wh/db/events", pm.GetTablePath([]string{"db"}, "events"))
	assert.Equal(t, "/tmp/wh/a/b/events", pm.GetTablePath([]string{"a", "b"}, "events"))
}

func TestLocations(t *testing.T) {
	loc := MetadataFileLocation("/wh/t", 3)
	assert.True(t, strings.HasPrefix(loc, "/wh/t/metadata/00003-"), loc)
	assert.True(t, strings.HasSuffix(loc, ".metadata.json"), loc)
	assert.Equal(t, 3, MetadataVersion(loc))
	assert.Equal(t, -1, MetadataVersion("/wh/t/metadata/v1.pointer"))
	assert.NotEqual(t, loc, MetadataFileLocation("/wh/t", 3))

	assert.True(t, strings.HasPrefix(ManifestListLocation("/wh/t", 42, 1), "/wh/t/metadata/snap-42-1-"))
	assert.True(t, strings.HasSuffix(ManifestLocation("/wh/t", 0), "-m0.avro"))

	data := DataFileLocation("/wh/t", "data=b", "parquet")
	assert.True(t, strings.HasPrefix(data, "/wh/t/data/data=b/"), data)
	assert.True(t, strings.HasSuffix(data, ".parquet"), data)

	assert.True(t, strings.HasPrefix(DataFileLocation("/wh/t", "", ".parquet"), "/wh/t/data/"))
}
