package filesystem

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
)

// Package-specific error codes for filesystem storage
var (
	FileStorageCreateFileFailed = errors.MustNewCode("filesystem.create_file_failed")
	FileStorageCreateDirFailed  = errors.MustNewCode("filesystem.create_dir_failed")
)

// Type is the backend name used in configuration
const Type = "filesystem"

const (
	scheme    = "file://"
	tmpPrefix = ".tmp-"
)

// FileStorage stores objects as files. Locations are paths, optionally
// prefixed with file://.
type FileStorage struct{}

// NewFileStorage creates a new filesystem storage
func NewFileStorage() *FileStorage {
	return &FileStorage{}
}

func toPath(location string) string {
	return filepath.FromSlash(strings.TrimPrefix(location, scheme))
}

func (s *FileStorage) Read(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CommonCanceled, "read canceled", err)
	}
	data, err := os.ReadFile(toPath(location))
	if err != nil {
		return nil, classify(err, "failed to read file", location)
	}
	return data, nil
}

// WriteNew writes to a temp file in the target directory and links it into
// place. link(2) fails if the target exists, so concurrent writers of the
// same location cannot overwrite each other and readers never see a
// partial file.
func (s *FileStorage) WriteNew(ctx context.Context, location string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CommonCanceled, "write canceled", err)
	}
	target := toPath(location)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(FileStorageCreateDirFailed, "failed to create directory", err).AddContext("path", dir)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return errors.New(FileStorageCreateFileFailed, "failed to create temp file", err).AddContext("path", location)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classify(err, "failed to write temp file", location)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classify(err, "failed to sync temp file", location)
	}
	if err := tmp.Close(); err != nil {
		return classify(err, "failed to close temp file", location)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		return classify(err, "failed to publish file", location)
	}
	return nil
}

func (s *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	root := toPath(prefix)
	walkRoot := root
	if !strings.HasSuffix(prefix, "/") {
		walkRoot = filepath.Dir(root)
	}

	var out []string
	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) || !strings.HasPrefix(p, root) {
			return nil
		}
		loc := filepath.ToSlash(p)
		if strings.HasPrefix(prefix, scheme) {
			loc = scheme + loc
		}
		out = append(out, loc)
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to list files", prefix)
	}
	slices.Sort(out)
	return out, nil
}

func (s *FileStorage) Delete(ctx context.Context, location string) error {
	if err := os.Remove(toPath(location)); err != nil && !os.IsNotExist(err) {
		return classify(err, "failed to delete file", location)
	}
	return nil
}

func classify(err error, msg, location string) error {
	switch {
	case os.IsNotExist(err):
		return errors.New(errors.StorageNotFound, msg, err).AddContext("path", location)
	case os.IsExist(err):
		return errors.New(errors.StorageAlreadyExists, msg, err).AddContext("path", location)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.New(errors.CommonCanceled, msg, err).AddContext("path", location)
	}
	return errors.New(errors.StorageUnavailable, msg, err).AddContext("path", location)
}
