package manifest

import (
	"context"
	"strconv"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

// Writer accumulates the entries of one manifest along with the counts and
// partition summaries its manifest list entry needs.
type Writer struct {
	spec        partition.Spec
	schema      *schema.Schema
	snapshotID  int64
	resultTypes []types.PrimitiveType
	summaries   []summaryBuilder
	entries     []Entry
	minSeq      int64
	closed      bool

	addedFiles, existingFiles, deletedFiles int32
	addedRows, existingRows, deletedRows    int64
}

// NewWriter starts a manifest for files written under spec by snapshotID
func NewWriter(spec partition.Spec, sch *schema.Schema, snapshotID int64) (*Writer, error) {
	resultTypes, err := spec.ResultTypes(sch)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		spec:        spec,
		schema:      sch,
		snapshotID:  snapshotID,
		resultTypes: resultTypes,
		summaries:   make([]summaryBuilder, len(resultTypes)),
	}
	for i, t := range resultTypes {
		w.summaries[i].typ = t
	}
	return w, nil
}

// Add records a newly written file. Its sequence number is assigned when
// the snapshot commits.
func (w *Writer) Add(f *DataFile) error {
	return w.AddEntry(Entry{Status: StatusAdded, SnapshotID: w.snapshotID, File: f})
}

// Existing carries a live entry from another manifest over unchanged
func (w *Writer) Existing(e Entry) error {
	e.Status = StatusExisting
	return w.AddEntry(e)
}

// Delete records that this writer's snapshot removed the entry's file
func (w *Writer) Delete(e Entry) error {
	e.Status = StatusDeleted
	e.SnapshotID = w.snapshotID
	return w.AddEntry(e)
}

// AddEntry appends an entry as given
func (w *Writer) AddEntry(e Entry) error {
	if w.closed {
		return errors.New(ErrWriterClosed, "manifest writer already written", nil)
	}
	if e.File == nil || e.File.Path == "" {
		return errors.New(ErrInvalidEntry, "manifest entry needs a data file path", nil)
	}
	if len(e.File.Partition) != len(w.spec.Fields) {
		return errors.Newf(ErrSpecMismatch, "partition tuple has %d values, spec %d has %d fields",
			len(e.File.Partition), w.spec.ID, len(w.spec.Fields)).AddContext("file", e.File.Path)
	}
	if e.File.RecordCount < 0 || e.File.FileSizeBytes < 0 {
		return errors.New(ErrInvalidEntry, "data file counts must not be negative", nil).AddContext("file", e.File.Path)
	}

	f := e.File.Clone()
	f.SpecID = w.spec.ID
	e.File = f
	for i, v := range f.Partition {
		cv, err := types.Convert(v, w.resultTypes[i])
		if err == nil {
			err = w.summaries[i].update(cv)
		}
		if err != nil {
			return errors.New(ErrInvalidEntry, "invalid partition value", err).
				AddContext("file", f.Path).
				AddContext("partition_field", w.spec.Fields[i].Name)
		}
		f.Partition[i] = cv
	}

	switch e.Status {
	case StatusAdded:
		w.addedFiles++
		w.addedRows += f.RecordCount
	case StatusExisting:
		w.existingFiles++
		w.existingRows += f.RecordCount
	case StatusDeleted:
		w.deletedFiles++
		w.deletedRows += f.RecordCount
	}
	if e.SequenceNumber > 0 && (w.minSeq == 0 || e.SequenceNumber < w.minSeq) {
		w.minSeq = e.SequenceNumber
	}
	w.entries = append(w.entries, e)
	return nil
}

func (w *Writer) Len() int {
	return len(w.entries)
}

func (w *Writer) Entries() []Entry {
	return w.entries
}

// ManifestFile describes the manifest once stored at path with length bytes
func (w *Writer) ManifestFile(path string, length int64) ManifestFile {
	parts := make([]FieldSummary, len(w.summaries))
	for i := range w.summaries {
		parts[i] = w.summaries[i].summary()
	}
	return ManifestFile{
		Path:               path,
		Length:             length,
		SpecID:             w.spec.ID,
		AddedSnapshotID:    w.snapshotID,
		MinSequenceNumber:  w.minSeq,
		AddedFilesCount:    w.addedFiles,
		ExistingFilesCount: w.existingFiles,
		DeletedFilesCount:  w.deletedFiles,
		AddedRowsCount:     w.addedRows,
		ExistingRowsCount:  w.existingRows,
		DeletedRowsCount:   w.deletedRows,
		Partitions:         parts,
	}
}

// Write encodes the manifest and stores it at a new location
func (w *Writer) Write(ctx context.Context, fio FileIO, path string) (ManifestFile, error) {
	if w.closed {
		return ManifestFile{}, errors.New(ErrWriterClosed, "manifest writer already written", nil)
	}
	data, err := EncodeManifest(w.schema, w.spec, w.entries)
	if err != nil {
		return ManifestFile{}, err
	}
	if err := fio.WriteNew(ctx, path, data); err != nil {
		return ManifestFile{}, err
	}
	w.closed = true
	return w.ManifestFile(path, int64(len(data))), nil
}

// BuildManifest writes one manifest of newly added files
func BuildManifest(ctx context.Context, fio FileIO, path string, sch *schema.Schema, spec partition.Spec, snapshotID int64, files []*DataFile) (ManifestFile, error) {
	w, err := NewWriter(spec, sch, snapshotID)
	if err != nil {
		return ManifestFile{}, err
	}
	for _, f := range files {
		if err := w.Add(f); err != nil {
			return ManifestFile{}, err
		}
	}
	return w.Write(ctx, fio, path)
}

type summaryBuilder struct {
	typ          types.PrimitiveType
	containsNull bool
	lower, upper any
}

func (s *summaryBuilder) update(v any) error {
	if v == nil {
		s.containsNull = true
		return nil
	}
	if _, err := types.ToBytes(s.typ, v); err != nil {
		return err
	}
	if s.lower == nil || types.Compare(s.typ, v, s.lower) < 0 {
		s.lower = v
	}
	if s.upper == nil || types.Compare(s.typ, v, s.upper) > 0 {
		s.upper = v
	}
	return nil
}

func (s *summaryBuilder) summary() FieldSummary {
	out := FieldSummary{ContainsNull: s.containsNull}
	if s.lower != nil {
		out.LowerBound, _ = types.ToBytes(s.typ, s.lower)
		out.UpperBound, _ = types.ToBytes(s.typ, s.upper)
	}
	return out
}

// ReadManifest loads the manifest mf points at. Entries stored without a
// sequence number take the manifest's.
func ReadManifest(ctx context.Context, fio FileIO, mf ManifestFile) (*Manifest, error) {
	data, err := fio.Read(ctx, mf.Path)
	if err != nil {
		return nil, err
	}
	m, err := DecodeManifest(mf.Path, data)
	if err != nil {
		return nil, err
	}
	if m.SpecID != mf.SpecID {
		return nil, corrupt(mf.Path, "manifest spec id does not match its manifest list entry", nil).
			AddContext("list_spec_id", strconv.Itoa(mf.SpecID)).
			AddContext("manifest_spec_id", strconv.Itoa(m.SpecID))
	}
	for i := range m.Entries {
		e := &m.Entries[i]
		if e.SequenceNumber == 0 && e.Status == StatusAdded {
			e.SequenceNumber = mf.SequenceNumber
		}
	}
	return m, nil
}

// WriteManifestList assigns the snapshot's sequence number to manifests
// written for it, then stores the list at a new location.
func WriteManifestList(ctx context.Context, fio FileIO, path string, list ManifestList) (ManifestList, error) {
	out := list
	out.Manifests = make([]ManifestFile, len(list.Manifests))
	for i, mf := range list.Manifests {
		if mf.SequenceNumber == 0 {
			mf.SequenceNumber = list.SequenceNumber
		}
		if mf.MinSequenceNumber == 0 {
			mf.MinSequenceNumber = mf.SequenceNumber
		}
		out.Manifests[i] = mf
	}
	data, err := EncodeManifestList(out)
	if err != nil {
		return ManifestList{}, err
	}
	if err := fio.WriteNew(ctx, path, data); err != nil {
		return ManifestList{}, err
	}
	return out, nil
}

// ReadManifestList loads a snapshot's manifest list
func ReadManifestList(ctx context.Context, fio FileIO, path string) (*ManifestList, error) {
	data, err := fio.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return DecodeManifestList(path, data)
}
