package minio

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileSystem(t *testing.T) *FileSystem {
	t.Helper()
	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	fs, err := NewS3FileSystem(context.Background(), Config{
		Endpoint:  strings.TrimPrefix(ts.URL, "http://"),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "warehouse",
		Region:    "us-east-1",
		PathStyle: true,
	})
	require.NoError(t, err)
	return fs
}

func TestS3FileSystemReadWrite(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileSystem(t)

	require.NoError(t, fs.WriteNew(ctx, "s3://warehouse/db/t/metadata/00001.metadata.json", []byte("{}")))

	data, err := fs.Read(ctx, "db/t/metadata/00001.metadata.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = fs.Read(ctx, "db/t/metadata/missing.json")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestS3FileSystemWriteNewRejectsExisting(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileSystem(t)

	require.NoError(t, fs.WriteNew(ctx, "t/metadata/v1.pointer", []byte("a")))
	err := fs.WriteNew(ctx, "t/metadata/v1.pointer", []byte("b"))
	assert.True(t, errors.IsAlreadyExists(err), "got %v", err)

	data, err := fs.Read(ctx, "t/metadata/v1.pointer")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestS3FileSystemListAndDelete(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileSystem(t)

	for _, key := range []string{"t/metadata/v2.pointer", "t/metadata/v1.pointer", "t/data/x.parquet"} {
		require.NoError(t, fs.WriteNew(ctx, key, []byte("x")))
	}

	got, err := fs.List(ctx, "s3://warehouse/t/metadata/")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://warehouse/t/metadata/v1.pointer", "s3://warehouse/t/metadata/v2.pointer"}, got)

	require.NoError(t, fs.Delete(ctx, "t/metadata/v1.pointer"))
	require.NoError(t, fs.Delete(ctx, "t/metadata/v1.pointer"))

	got, err = fs.List(ctx, "t/")
	require.NoError(t, err)
	assert.Equal(t, []string{"t/data/x.parquet", "t/metadata/v2.pointer"}, got)
}
