package minio

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Type is the backend name used in configuration
const Type = "minio"

var (
	MinioClientFailed = errors.MustNewCode("minio.client_failed")
	MinioBucketFailed = errors.MustNewCode("minio.bucket_failed")
)

// Config holds the connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PathStyle forces path-style bucket addressing
	PathStyle bool
}

// FileSystem stores objects in one S3/MinIO bucket. Locations are object
// keys, optionally written as s3://<bucket>/<key>.
type FileSystem struct {
	client *minio.Client
	bucket string
}

// NewS3FileSystem connects to the object store and creates the bucket if
// it does not exist yet.
func NewS3FileSystem(ctx context.Context, cfg Config) (*FileSystem, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, errors.New(MinioClientFailed, "failed to create minio client", err).AddContext("endpoint", cfg.Endpoint)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, classify(err, "failed to check bucket", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, errors.New(MinioBucketFailed, "failed to create bucket", err).AddContext("bucket", cfg.Bucket)
		}
	}
	return &FileSystem{client: client, bucket: cfg.Bucket}, nil
}

func (fs *FileSystem) key(location string) string {
	key := strings.TrimPrefix(location, "s3://"+fs.bucket+"/")
	return strings.TrimPrefix(key, "/")
}

func (fs *FileSystem) Read(ctx context.Context, location string) ([]byte, error) {
	obj, err := fs.client.GetObject(ctx, fs.bucket, fs.key(location), minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err, "failed to get object", location)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(err, "failed to read object", location)
	}
	return data, nil
}

// WriteNew uploads with If-None-Match: *, so the store rejects the put when
// the key exists. The stat beforehand only gives a clearer error on stores
// that ignore the condition.
func (fs *FileSystem) WriteNew(ctx context.Context, location string, data []byte) error {
	key := fs.key(location)
	if _, err := fs.client.StatObject(ctx, fs.bucket, key, minio.StatObjectOptions{}); err == nil {
		return errors.New(errors.StorageAlreadyExists, "object already exists", nil).AddContext("path", location)
	} else if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" && code != "NotFound" {
		return classify(err, "failed to stat object", location)
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	opts.SetMatchETagExcept("*")
	_, err := fs.client.PutObject(ctx, fs.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return classify(err, "failed to put object", location)
	}
	return nil
}

func (fs *FileSystem) List(ctx context.Context, prefix string) ([]string, error) {
	keyPrefix := fs.key(prefix)
	withScheme := strings.HasPrefix(prefix, "s3://")

	var out []string
	for info := range fs.client.ListObjects(ctx, fs.bucket, minio.ListObjectsOptions{Prefix: keyPrefix, Recursive: true}) {
		if info.Err != nil {
			return nil, classify(info.Err, "failed to list objects", prefix)
		}
		loc := info.Key
		if withScheme {
			loc = "s3://" + fs.bucket + "/" + loc
		}
		out = append(out, loc)
	}
	slices.Sort(out)
	return out, nil
}

func (fs *FileSystem) Delete(ctx context.Context, location string) error {
	err := fs.client.RemoveObject(ctx, fs.bucket, fs.key(location), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return classify(err, "failed to remove object", location)
	}
	return nil
}

func classify(err error, msg, location string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return errors.New(errors.StorageNotFound, msg, err).AddContext("path", location)
	case "PreconditionFailed":
		return errors.New(errors.StorageAlreadyExists, msg, err).AddContext("path", location)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
		return errors.New(MinioClientFailed, msg, err).AddContext("path", location)
	}
	return errors.New(errors.StorageUnavailable, msg, err).AddContext("path", location)
}
