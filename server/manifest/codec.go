package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
	"github.com/hamba/avro/v2/ocf"
)

type avroEntry struct {
	Status         int32        `avro:"status"`
	SnapshotID     int64        `avro:"snapshot_id"`
	SequenceNumber int64        `avro:"sequence_number"`
	DataFile       avroDataFile `avro:"data_file"`
}

type avroDataFile struct {
	FilePath        string               `avro:"file_path"`
	FileFormat      string               `avro:"file_format"`
	Partition       []avroPartitionValue `avro:"partition"`
	RecordCount     int64                `avro:"record_count"`
	FileSizeInBytes int64                `avro:"file_size_in_bytes"`
	ValueCounts     []avroCount          `avro:"value_counts"`
	NullValueCounts []avroCount          `avro:"null_value_counts"`
	LowerBounds     []avroBound          `avro:"lower_bounds"`
	UpperBounds     []avroBound          `avro:"upper_bounds"`
}

type avroPartitionValue struct {
	FieldID int32  `avro:"field_id"`
	IsNull  bool   `avro:"is_null"`
	Value   []byte `avro:"value"`
}

type avroCount struct {
	Key   int32 `avro:"key"`
	Value int64 `avro:"value"`
}

type avroBound struct {
	Key   int32  `avro:"key"`
	Value []byte `avro:"value"`
}

type avroManifestFile struct {
	ManifestPath       string             `avro:"manifest_path"`
	ManifestLength     int64              `avro:"manifest_length"`
	PartitionSpecID    int32              `avro:"partition_spec_id"`
	Content            int32              `avro:"content"`
	SequenceNumber     int64              `avro:"sequence_number"`
	MinSequenceNumber  int64              `avro:"min_sequence_number"`
	AddedSnapshotID    int64              `avro:"added_snapshot_id"`
	AddedFilesCount    int32              `avro:"added_files_count"`
	ExistingFilesCount int32              `avro:"existing_files_count"`
	DeletedFilesCount  int32              `avro:"deleted_files_count"`
	AddedRowsCount     int64              `avro:"added_rows_count"`
	ExistingRowsCount  int64              `avro:"existing_rows_count"`
	DeletedRowsCount   int64              `avro:"deleted_rows_count"`
	Partitions         []avroFieldSummary `avro:"partitions"`
}

type avroFieldSummary struct {
	ContainsNull  bool   `avro:"contains_null"`
	HasLowerBound bool   `avro:"has_lower_bound"`
	LowerBound    []byte `avro:"lower_bound"`
	HasUpperBound bool   `avro:"has_upper_bound"`
	UpperBound    []byte `avro:"upper_bound"`
}

func corrupt(path string, msg string, cause error) *errors.Error {
	return errors.New(errors.CorruptMetadata, msg, cause).AddContext("path", path)
}

// EncodeManifest writes entries as an Avro object container whose header
// carries the schema and partition spec the tuples were derived with.
func EncodeManifest(sch *schema.Schema, spec partition.Spec, entries []Entry) ([]byte, error) {
	resultTypes, err := spec.ResultTypes(sch)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(sch)
	if err != nil {
		return nil, errors.New(ErrEncodeFailed, "failed to marshal schema header", err)
	}
	specJSON, err := json.Marshal(spec.Fields)
	if err != nil {
		return nil, errors.New(ErrEncodeFailed, "failed to marshal partition spec header", err)
	}

	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(ManifestEntrySchema, &buf,
		ocf.WithCodec(ocf.Deflate),
		ocf.WithMetadata(map[string][]byte{
			headerSchema:          schemaJSON,
			headerSchemaID:        []byte(strconv.Itoa(sch.ID)),
			headerPartitionSpec:   specJSON,
			headerPartitionSpecID: []byte(strconv.Itoa(spec.ID)),
			headerFormatVersion:   []byte(strconv.Itoa(FormatVersion)),
			headerContent:         []byte("data"),
		}))
	if err != nil {
		return nil, errors.New(ErrEncodeFailed, "failed to create manifest encoder", err)
	}

	for _, e := range entries {
		rec, err := toAvroEntry(spec, resultTypes, e)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(rec); err != nil {
			return nil, errors.New(ErrEncodeFailed, "failed to encode manifest entry", err).AddContext("file", e.File.Path)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, errors.New(ErrEncodeFailed, "failed to flush manifest", err)
	}
	return buf.Bytes(), nil
}

func toAvroEntry(spec partition.Spec, resultTypes []types.PrimitiveType, e Entry) (avroEntry, error) {
	f := e.File
	if len(f.Partition) != len(spec.Fields) {
		return avroEntry{}, errors.Newf(ErrSpecMismatch, "partition tuple has %d values, spec %d has %d fields",
			len(f.Partition), spec.ID, len(spec.Fields)).AddContext("file", f.Path)
	}

	part := make([]avroPartitionValue, len(spec.Fields))
	for i, pf := range spec.Fields {
		part[i] = avroPartitionValue{FieldID: int32(pf.FieldID), IsNull: f.Partition[i] == nil, Value: []byte{}}
		if f.Partition[i] == nil {
			continue
		}
		b, err := types.ToBytes(resultTypes[i], f.Partition[i])
		if err != nil {
			return avroEntry{}, errors.New(ErrInvalidEntry, "failed to encode partition value", err).
				AddContext("file", f.Path).
				AddContext("partition_field", pf.Name)
		}
		part[i].Value = b
	}

	return avroEntry{
		Status:         int32(e.Status),
		SnapshotID:     e.SnapshotID,
		SequenceNumber: e.SequenceNumber,
		DataFile: avroDataFile{
			FilePath:        f.Path,
			FileFormat:      string(f.Format),
			Partition:       part,
			RecordCount:     f.RecordCount,
			FileSizeInBytes: f.FileSizeBytes,
			ValueCounts:     countsToAvro(f.ValueCounts),
			NullValueCounts: countsToAvro(f.NullValueCounts),
			LowerBounds:     boundsToAvro(f.LowerBounds),
			UpperBounds:     boundsToAvro(f.UpperBounds),
		},
	}, nil
}

func countsToAvro(m map[int]int64) []avroCount {
	out := make([]avroCount, 0, len(m))
	for k, v := range m {
		out = append(out, avroCount{Key: int32(k), Value: v})
	}
	slices.SortFunc(out, func(a, b avroCount) int { return int(a.Key - b.Key) })
	return out
}

func boundsToAvro(m map[int][]byte) []avroBound {
	out := make([]avroBound, 0, len(m))
	for k, v := range m {
		out = append(out, avroBound{Key: int32(k), Value: v})
	}
	slices.SortFunc(out, func(a, b avroBound) int { return int(a.Key - b.Key) })
	return out
}

// DecodeManifest reads a manifest container. Sequence numbers are returned
// as stored; ReadManifest applies inheritance.
func DecodeManifest(path string, data []byte) (*Manifest, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt(path, "not an avro manifest", err)
	}
	meta := dec.Metadata()

	for _, k := range []string{headerSchema, headerPartitionSpec, headerPartitionSpecID} {
		if _, ok := meta[k]; !ok {
			return nil, corrupt(path, "manifest header is incomplete",
				errors.Newf(ErrMissingHeaderKey, "missing header key %q", k))
		}
	}
	sch := &schema.Schema{}
	if err := json.Unmarshal(meta[headerSchema], sch); err != nil {
		return nil, corrupt(path, "invalid schema in manifest header", err)
	}
	var fields []partition.Field
	if err := json.Unmarshal(meta[headerPartitionSpec], &fields); err != nil {
		return nil, corrupt(path, "invalid partition spec in manifest header", err)
	}
	specID, err := strconv.Atoi(string(meta[headerPartitionSpecID]))
	if err != nil {
		return nil, corrupt(path, "invalid partition spec id in manifest header", err)
	}
	if fields == nil {
		fields = []partition.Field{}
	}
	spec := partition.Spec{ID: specID, Fields: fields}
	resultTypes, err := spec.ResultTypes(sch)
	if err != nil {
		return nil, corrupt(path, "manifest partition spec does not match its schema", err)
	}

	m := &Manifest{Path: path, SpecID: specID, Spec: spec, Schema: sch, Entries: []Entry{}}
	for dec.HasNext() {
		var rec avroEntry
		if err := dec.Decode(&rec); err != nil {
			return nil, corrupt(path, "failed to decode manifest entry", err)
		}
		e, err := fromAvroEntry(spec, resultTypes, rec)
		if err != nil {
			return nil, corrupt(path, "invalid manifest entry", err)
		}
		m.Entries = append(m.Entries, e)
	}
	if err := dec.Error(); err != nil {
		return nil, corrupt(path, "failed to read manifest", err)
	}
	return m, nil
}

func fromAvroEntry(spec partition.Spec, resultTypes []types.PrimitiveType, rec avroEntry) (Entry, error) {
	if rec.Status < int32(StatusExisting) || rec.Status > int32(StatusDeleted) {
		return Entry{}, errors.Newf(ErrInvalidEntry, "unknown entry status %d", rec.Status)
	}
	df := rec.DataFile
	if len(df.Partition) != len(spec.Fields) {
		return Entry{}, errors.Newf(ErrSpecMismatch, "entry has %d partition values for %d fields",
			len(df.Partition), len(spec.Fields)).AddContext("file", df.FilePath)
	}

	part := make(partition.Record, len(spec.Fields))
	for i, pv := range df.Partition {
		if int(pv.FieldID) != spec.Fields[i].FieldID {
			return Entry{}, errors.Newf(ErrSpecMismatch, "partition value %d has field id %d, expected %d",
				i, pv.FieldID, spec.Fields[i].FieldID)
		}
		if pv.IsNull {
			continue
		}
		v, err := types.FromBytes(resultTypes[i], pv.Value)
		if err != nil {
			return Entry{}, err
		}
		part[i] = v
	}

	f := &DataFile{
		Path:            df.FilePath,
		Format:          FileFormat(df.FileFormat),
		SpecID:          spec.ID,
		Partition:       part,
		RecordCount:     df.RecordCount,
		FileSizeBytes:   df.FileSizeInBytes,
		ValueCounts:     make(map[int]int64, len(df.ValueCounts)),
		NullValueCounts: make(map[int]int64, len(df.NullValueCounts)),
		LowerBounds:     make(map[int][]byte, len(df.LowerBounds)),
		UpperBounds:     make(map[int][]byte, len(df.UpperBounds)),
	}
	for _, c := range df.ValueCounts {
		f.ValueCounts[int(c.Key)] = c.Value
	}
	for _, c := range df.NullValueCounts {
		f.NullValueCounts[int(c.Key)] = c.Value
	}
	for _, b := range df.LowerBounds {
		f.LowerBounds[int(b.Key)] = nonNil(b.Value)
	}
	for _, b := range df.UpperBounds {
		f.UpperBounds[int(b.Key)] = nonNil(b.Value)
	}

	return Entry{
		Status:         EntryStatus(rec.Status),
		SnapshotID:     rec.SnapshotID,
		SequenceNumber: rec.SequenceNumber,
		File:           f,
	}, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// EncodeManifestList writes one snapshot's manifest list
func EncodeManifestList(list ManifestList) ([]byte, error) {
	meta := map[string][]byte{
		headerSnapshotID:     []byte(strconv.FormatInt(list.SnapshotID, 10)),
		headerSequenceNumber: []byte(strconv.FormatInt(list.SequenceNumber, 10)),
		headerFormatVersion:  []byte(strconv.Itoa(FormatVersion)),
	}
	if list.ParentSnapshotID != nil {
		meta[headerParentSnapshotID] = []byte(strconv.FormatInt(*list.ParentSnapshotID, 10))
	}

	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(ManifestFileSchema, &buf, ocf.WithCodec(ocf.Deflate), ocf.WithMetadata(meta))
	if err != nil {
		return nil, errors.New(ErrEncodeFailed, "failed to create manifest list encoder", err)
	}
	for _, mf := range list.Manifests {
		if err := enc.Encode(toAvroManifestFile(mf)); err != nil {
			return nil, errors.New(ErrEncodeFailed, "failed to encode manifest list entry", err).AddContext("manifest", mf.Path)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, errors.New(ErrEncodeFailed, "failed to flush manifest list", err)
	}
	return buf.Bytes(), nil
}

func toAvroManifestFile(mf ManifestFile) avroManifestFile {
	parts := make([]avroFieldSummary, len(mf.Partitions))
	for i, s := range mf.Partitions {
		parts[i] = avroFieldSummary{
			ContainsNull:  s.ContainsNull,
			HasLowerBound: s.LowerBound != nil,
			LowerBound:    nonNil(s.LowerBound),
			HasUpperBound: s.UpperBound != nil,
			UpperBound:    nonNil(s.UpperBound),
		}
	}
	return avroManifestFile{
		ManifestPath:       mf.Path,
		ManifestLength:     mf.Length,
		PartitionSpecID:    int32(mf.SpecID),
		SequenceNumber:     mf.SequenceNumber,
		MinSequenceNumber:  mf.MinSequenceNumber,
		AddedSnapshotID:    mf.AddedSnapshotID,
		AddedFilesCount:    mf.AddedFilesCount,
		ExistingFilesCount: mf.ExistingFilesCount,
		DeletedFilesCount:  mf.DeletedFilesCount,
		AddedRowsCount:     mf.AddedRowsCount,
		ExistingRowsCount:  mf.ExistingRowsCount,
		DeletedRowsCount:   mf.DeletedRowsCount,
		Partitions:         parts,
	}
}

// DecodeManifestList reads a manifest list container
func DecodeManifestList(path string, data []byte) (*ManifestList, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt(path, "not an avro manifest list", err)
	}
	meta := dec.Metadata()

	list := &ManifestList{Manifests: []ManifestFile{}}
	if list.SnapshotID, err = headerInt(meta, headerSnapshotID); err != nil {
		return nil, corrupt(path, "invalid manifest list header", err)
	}
	if list.SequenceNumber, err = headerInt(meta, headerSequenceNumber); err != nil {
		return nil, corrupt(path, "invalid manifest list header", err)
	}
	if _, ok := meta[headerParentSnapshotID]; ok {
		parent, err := headerInt(meta, headerParentSnapshotID)
		if err != nil {
			return nil, corrupt(path, "invalid manifest list header", err)
		}
		list.ParentSnapshotID = &parent
	}

	for dec.HasNext() {
		var rec avroManifestFile
		if err := dec.Decode(&rec); err != nil {
			return nil, corrupt(path, "failed to decode manifest list entry", err)
		}
		list.Manifests = append(list.Manifests, fromAvroManifestFile(rec))
	}
	if err := dec.Error(); err != nil {
		return nil, corrupt(path, "failed to read manifest list", err)
	}
	return list, nil
}

func headerInt(meta map[string][]byte, key string) (int64, error) {
	raw, ok := meta[key]
	if !ok {
		return 0, errors.Newf(ErrMissingHeaderKey, "missing header key %q", key)
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("header %s: %w", key, err)
	}
	return v, nil
}

func fromAvroManifestFile(rec avroManifestFile) ManifestFile {
	parts := make([]FieldSummary, len(rec.Partitions))
	for i, s := range rec.Partitions {
		parts[i] = FieldSummary{ContainsNull: s.ContainsNull}
		if s.HasLowerBound {
			parts[i].LowerBound = nonNil(s.LowerBound)
		}
		if s.HasUpperBound {
			parts[i].UpperBound = nonNil(s.UpperBound)
		}
	}
	return ManifestFile{
		Path:               rec.ManifestPath,
		Length:             rec.ManifestLength,
		SpecID:             int(rec.PartitionSpecID),
		AddedSnapshotID:    rec.AddedSnapshotID,
		SequenceNumber:     rec.SequenceNumber,
		MinSequenceNumber:  rec.MinSequenceNumber,
		AddedFilesCount:    rec.AddedFilesCount,
		ExistingFilesCount: rec.ExistingFilesCount,
		DeletedFilesCount:  rec.DeletedFilesCount,
		AddedRowsCount:     rec.AddedRowsCount,
		ExistingRowsCount:  rec.ExistingRowsCount,
		DeletedRowsCount:   rec.DeletedRowsCount,
		Partitions:         parts,
	}
}
