package metadata

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/partition"
)

// Operation is the kind of change a snapshot made
type Operation string

const (
	OpAppend    Operation = "append"
	OpOverwrite Operation = "overwrite"
	OpReplace   Operation = "replace"
	OpDelete    Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpAppend, OpOverwrite, OpReplace, OpDelete:
		return true
	}
	return false
}

// Snapshot summary keys
const (
	AddedDataFiles        = "added-data-files"
	DeletedDataFiles      = "deleted-data-files"
	AddedRecords          = "added-records"
	DeletedRecords        = "deleted-records"
	AddedFilesSize        = "added-files-size"
	RemovedFilesSize      = "removed-files-size"
	ChangedPartitionCount = "changed-partition-count"
	TotalDataFiles        = "total-data-files"
	TotalRecords          = "total-records"
	TotalFilesSize        = "total-files-size"
)

var summaryKeys = []string{
	AddedDataFiles, DeletedDataFiles, AddedRecords, DeletedRecords, AddedFilesSize,
	RemovedFilesSize, ChangedPartitionCount, TotalDataFiles, TotalRecords, TotalFilesSize,
}

// Summary records what a snapshot changed. Only the known count keys are
// accepted and every count is non-negative.
type Summary struct {
	Operation Operation
	counts    map[string]int64
}

// NewSummary validates counts against the known keys
func NewSummary(op Operation, counts map[string]int64) (Summary, error) {
	if !op.Valid() {
		return Summary{}, errors.Newf(ErrInvalidSummary, "unknown snapshot operation %q", op)
	}
	for k, v := range counts {
		if !slices.Contains(summaryKeys, k) {
			return Summary{}, errors.Newf(ErrInvalidSummary, "unknown summary key %q", k)
		}
		if v < 0 {
			return Summary{}, errors.Newf(ErrInvalidSummary, "summary %s is negative: %d", k, v)
		}
	}
	c := maps.Clone(counts)
	if c == nil {
		c = map[string]int64{}
	}
	return Summary{Operation: op, counts: c}, nil
}

func (s Summary) Get(key string) (int64, bool) {
	v, ok := s.counts[key]
	return v, ok
}

// Counts returns a copy of the summary counts
func (s Summary) Counts() map[string]int64 {
	return maps.Clone(s.counts)
}

func (s Summary) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s.counts)+1)
	out["operation"] = string(s.Operation)
	for k, v := range s.counts {
		out[k] = strconv.FormatInt(v, 10)
	}
	return json.Marshal(out)
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	counts := make(map[string]int64, len(raw))
	for k, v := range raw {
		if k == "operation" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Newf(ErrInvalidSummary, "summary %s is not a count: %q", k, v)
		}
		counts[k] = n
	}
	parsed, err := NewSummary(Operation(raw["operation"]), counts)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SummaryBuilder tallies the files a snapshot adds and removes
type SummaryBuilder struct {
	addedFiles, deletedFiles     int64
	addedRecords, deletedRecords int64
	addedSize, removedSize       int64
	partitions                   map[string]struct{}
}

func NewSummaryBuilder() *SummaryBuilder {
	return &SummaryBuilder{partitions: map[string]struct{}{}}
}

func (b *SummaryBuilder) AddedFile(spec partition.Spec, f *manifest.DataFile) {
	b.addedFiles++
	b.addedRecords += f.RecordCount
	b.addedSize += f.FileSizeBytes
	b.touch(spec, f)
}

func (b *SummaryBuilder) DeletedFile(spec partition.Spec, f *manifest.DataFile) {
	b.deletedFiles++
	b.deletedRecords += f.RecordCount
	b.removedSize += f.FileSizeBytes
	b.touch(spec, f)
}

func (b *SummaryBuilder) touch(spec partition.Spec, f *manifest.DataFile) {
	b.partitions[fmt.Sprintf("%d/%s", spec.ID, spec.PartitionPath(f.Partition))] = struct{}{}
}

// Build produces the summary, carrying totals forward from previous
func (b *SummaryBuilder) Build(op Operation, previous *Summary) (Summary, error) {
	counts := map[string]int64{
		ChangedPartitionCount: int64(len(b.partitions)),
	}
	set := func(key string, v int64) {
		if v > 0 {
			counts[key] = v
		}
	}
	set(AddedDataFiles, b.addedFiles)
	set(DeletedDataFiles, b.deletedFiles)
	set(AddedRecords, b.addedRecords)
	set(DeletedRecords, b.deletedRecords)
	set(AddedFilesSize, b.addedSize)
	set(RemovedFilesSize, b.removedSize)

	total := func(key string, added, removed int64) {
		var prev int64
		if previous != nil {
			prev = previous.counts[key]
		}
		counts[key] = max(prev+added-removed, 0)
	}
	total(TotalDataFiles, b.addedFiles, b.deletedFiles)
	total(TotalRecords, b.addedRecords, b.deletedRecords)
	total(TotalFilesSize, b.addedSize, b.removedSize)

	return NewSummary(op, counts)
}
