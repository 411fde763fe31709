package storage

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	pointerDir    = "metadata"
	pointerPrefix = "v"
	pointerSuffix = ".pointer"
)

// LogPointerStore keeps a table pointer on a plain FileIO as a log of
// numbered markers metadata/v<N>.pointer, each holding one metadata
// location. The highest N is current. A swap writes marker N+1 with
// WriteNew, so of two writers racing from the same N only one can win.
type LogPointerStore struct {
	fio    FileIO
	logger zerolog.Logger
}

func NewLogPointerStore(fio FileIO, logger zerolog.Logger) *LogPointerStore {
	return &LogPointerStore{fio: fio, logger: logger.With().Str("component", "pointer").Logger()}
}

// PointerLocation is the marker for version n of a table's pointer
func PointerLocation(tableRoot string, n int64) string {
	return Join(tableRoot, pointerDir, fmt.Sprintf("%s%d%s", pointerPrefix, n, pointerSuffix))
}

// Current returns the newest metadata location, or ErrNotFound when the
// table has no pointer yet.
func (s *LogPointerStore) Current(ctx context.Context, tableRoot string) (string, error) {
	_, loc, err := s.current(ctx, tableRoot)
	if err != nil {
		return "", err
	}
	if loc == "" {
		return "", errors.New(ErrNotFound, "table has no metadata pointer", nil).AddContext("table_root", tableRoot)
	}
	return loc, nil
}

func (s *LogPointerStore) Swap(ctx context.Context, tableRoot, expected, next string) (bool, error) {
	if next == "" {
		return false, errors.New(ErrInvalidPointer, "new metadata location is empty", nil)
	}
	version, current, err := s.current(ctx, tableRoot)
	if err != nil {
		return false, err
	}
	if current != expected {
		s.logger.Debug().
			Str("table_root", tableRoot).
			Str("expected", expected).
			Str("current", current).
			Msg("Pointer moved before swap")
		return false, nil
	}

	marker := PointerLocation(tableRoot, version+1)
	if err := s.fio.WriteNew(ctx, marker, []byte(next)); err != nil {
		if errors.IsAlreadyExists(err) {
			s.logger.Debug().Str("marker", marker).Msg("Lost pointer race")
			return false, nil
		}
		return false, err
	}
	s.logger.Debug().Str("marker", marker).Str("metadata_location", next).Msg("Pointer swapped")
	return true, nil
}

// History returns every metadata location the pointer has held, oldest first
func (s *LogPointerStore) History(ctx context.Context, tableRoot string) ([]string, error) {
	markers, err := s.markers(ctx, tableRoot)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		loc, err := s.read(ctx, m.location)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

type marker struct {
	version  int64
	location string
}

func (s *LogPointerStore) markers(ctx context.Context, tableRoot string) ([]marker, error) {
	locs, err := s.fio.List(ctx, Join(tableRoot, pointerDir)+"/")
	if err != nil {
		return nil, err
	}
	var out []marker
	for _, loc := range locs {
		if n, ok := parseMarker(path.Base(loc)); ok {
			out = append(out, marker{version: n, location: loc})
		}
	}
	// List is sorted lexically; v10 sorts before v9
	slices.SortFunc(out, func(a, b marker) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

func (s *LogPointerStore) current(ctx context.Context, tableRoot string) (int64, string, error) {
	markers, err := s.markers(ctx, tableRoot)
	if err != nil {
		return 0, "", err
	}
	if len(markers) == 0 {
		return 0, "", nil
	}
	last := markers[len(markers)-1]
	loc, err := s.read(ctx, last.location)
	if err != nil {
		return 0, "", err
	}
	return last.version, loc, nil
}

func (s *LogPointerStore) read(ctx context.Context, marker string) (string, error) {
	data, err := s.fio.Read(ctx, marker)
	if err != nil {
		return "", err
	}
	loc := strings.TrimSpace(string(data))
	if loc == "" {
		return "", errors.New(errors.CorruptMetadata, "empty pointer marker", nil).AddContext("path", marker)
	}
	return loc, nil
}

func parseMarker(name string) (int64, bool) {
	if !strings.HasPrefix(name, pointerPrefix) || !strings.HasSuffix(name, pointerSuffix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, pointerPrefix), pointerSuffix), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Close is a no-op; the FileIO has no connection to release
func (s *LogPointerStore) Close() error { return nil }
