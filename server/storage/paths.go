package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gear6io/stratum/utils"
)

// Directory names inside a table root
const (
	MetadataDir = "metadata"
	DataDir     = "data"
)

// PathManager lays out tables under a warehouse root:
//
//	<warehouse>/<namespace...>/<table>/metadata/<version>-<ulid>.metadata.json
//	<warehouse>/<namespace...>/<table>/metadata/snap-<snapshot>-<attempt>-<ulid>.avro
//	<warehouse>/<namespace...>/<table>/metadata/<ulid>-m<n>.avro
//	<warehouse>/<namespace...>/<table>/data/<partition path>/<ulid>.parquet
type PathManager struct {
	basePath string
}

// NewPathManager creates a new path manager
func NewPathManager(basePath string) *PathManager {
	return &PathManager{basePath: strings.TrimRight(basePath, "/")}
}

// GetBasePath returns the warehouse root
func (pm *PathManager) GetBasePath() string {
	return pm.basePath
}

// GetTablePath returns the default location of a table
func (pm *PathManager) GetTablePath(namespace []string, tableName string) string {
	return Join(pm.basePath, append(append([]string{}, namespace...), tableName)...)
}

// MetadataFileLocation names a new table metadata file
func MetadataFileLocation(tableLocation string, version int) string {
	return Join(tableLocation, MetadataDir, fmt.Sprintf("%05d-%s.metadata.json", version, utils.GenerateULIDString()))
}

// ManifestListLocation names a new manifest list
func ManifestListLocation(tableLocation string, snapshotID int64, attempt int) string {
	return Join(tableLocation, MetadataDir, fmt.Sprintf("snap-%d-%d-%s.avro", snapshotID, attempt, utils.GenerateULIDString()))
}

// ManifestLocation names a new manifest; n distinguishes manifests written
// by one operation
func ManifestLocation(tableLocation string, n int) string {
	return Join(tableLocation, MetadataDir, fmt.Sprintf("%s-m%d.avro", utils.GenerateULIDString(), n))
}

// DataFileLocation names a new data file under the partition path
func DataFileLocation(tableLocation, partitionPath, ext string) string {
	return Join(tableLocation, DataDir, partitionPath, utils.UniqueFileName("."+strings.TrimPrefix(ext, ".")))
}

// MetadataVersion extracts the version prefix of a metadata file name, or
// -1 when the name does not have one
func MetadataVersion(location string) int {
	name := location[strings.LastIndex(location, "/")+1:]
	if !strings.HasSuffix(name, ".metadata.json") {
		return -1
	}
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return -1
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return -1
	}
	return v
}
