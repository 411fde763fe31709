package data

import (
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/gear6io/stratum/pkg/errors"
)

// ParseCompression maps a codec name from configuration to the parquet
// codec. An empty name means snappy.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip", "gz":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	}
	return compress.Codecs.Uncompressed, errors.New(ErrUnsupportedCompression, "unsupported compression type", nil).
		AddContext("compression", name)
}
