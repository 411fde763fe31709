// Package storage defines the object storage the table engine runs on: a
// FileIO for immutable objects and a PointerStore holding each table's
// current metadata location.
package storage

import (
	"context"
	"strings"
)

// FileIO reads and writes whole immutable objects by location. WriteNew
// never replaces an existing object; it fails with ErrAlreadyExists instead.
type FileIO interface {
	Read(ctx context.Context, location string) ([]byte, error)
	WriteNew(ctx context.Context, location string, data []byte) error
	// List returns the locations starting with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes an object; deleting a missing object is not an error
	Delete(ctx context.Context, location string) error
}

// PointerStore holds the metadata location of every table, keyed by the
// table root. Swap is the engine's compare-and-swap: it replaces expected
// with next only if expected is still current, and reports false when
// another writer got there first. An empty expected creates the pointer.
type PointerStore interface {
	Current(ctx context.Context, tableRoot string) (string, error)
	Swap(ctx context.Context, tableRoot, expected, next string) (bool, error)
}

// Join builds a location under root with forward slashes
func Join(root string, elem ...string) string {
	out := strings.TrimRight(root, "/")
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		out += "/" + e
	}
	return out
}
