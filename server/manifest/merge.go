package manifest

import (
	"context"
	"slices"

	"github.com/gear6io/stratum/pkg/errors"
)

// MergeRequest describes the file changes of one snapshot
type MergeRequest struct {
	SnapshotID int64
	Base       []ManifestFile
	Added      []ManifestFile
	// Removed holds the paths of files the snapshot deletes
	Removed []string
	// NewPath names a fresh location for each rewritten manifest
	NewPath func() string
}

// MergeResult is the new manifest list content plus what was written
type MergeResult struct {
	Manifests []ManifestFile
	Deleted   []Entry
	Written   []string
}

// MergeManifestList builds a snapshot's manifests from its parent's. Base
// manifests with live files are carried over in order and the added ones
// follow. A base manifest holding a removed file is rewritten with that
// entry marked deleted; removing a file that is not live fails validation.
func MergeManifestList(ctx context.Context, fio FileIO, req MergeRequest) (*MergeResult, error) {
	removed := make(map[string]bool, len(req.Removed))
	for _, p := range req.Removed {
		removed[p] = false
	}

	res := &MergeResult{Manifests: make([]ManifestFile, 0, len(req.Base)+len(req.Added))}
	for _, mf := range req.Base {
		if err := ctx.Err(); err != nil {
			return res, errors.New(errors.CommonCanceled, "manifest merge canceled", err)
		}
		if !mf.HasLiveFiles() {
			continue
		}
		if len(removed) == 0 {
			res.Manifests = append(res.Manifests, mf)
			continue
		}

		m, err := ReadManifest(ctx, fio, mf)
		if err != nil {
			return res, err
		}
		hit := slices.ContainsFunc(m.Entries, func(e Entry) bool {
			_, ok := removed[e.File.Path]
			return ok && e.IsLive()
		})
		if !hit {
			res.Manifests = append(res.Manifests, mf)
			continue
		}

		w, err := NewWriter(m.Spec, m.Schema, req.SnapshotID)
		if err != nil {
			return res, err
		}
		for _, e := range m.Entries {
			if !e.IsLive() {
				continue
			}
			if _, ok := removed[e.File.Path]; ok {
				removed[e.File.Path] = true
				err = w.Delete(e)
				res.Deleted = append(res.Deleted, e)
			} else {
				err = w.Existing(e)
			}
			if err != nil {
				return res, err
			}
		}
		path := req.NewPath()
		rewritten, err := w.Write(ctx, fio, path)
		if err != nil {
			return res, err
		}
		res.Written = append(res.Written, path)
		res.Manifests = append(res.Manifests, rewritten)
	}

	for _, p := range req.Removed {
		if !removed[p] {
			return res, errors.Newf(errors.ValidationMissingFile, "cannot delete %s: file is not in the table", p).
				AddContext("path", p)
		}
	}
	res.Manifests = append(res.Manifests, req.Added...)
	return res, nil
}

// Merger combines small manifests of the same spec into larger ones.
// Merging only changes the layout of the index, never the set of live files.
type Merger struct {
	Enabled         bool
	TargetSizeBytes int64
	MinCountToMerge int
}

// Merge bin-packs each spec's manifests up to the target size once a spec
// has at least MinCountToMerge of them. Entries deleted by older snapshots
// are dropped from merged manifests.
func (m Merger) Merge(ctx context.Context, fio FileIO, snapshotID int64, manifests []ManifestFile, newPath func() string) ([]ManifestFile, []string, error) {
	if !m.Enabled || m.TargetSizeBytes <= 0 {
		return manifests, nil, nil
	}

	var order []int
	groups := make(map[int][]ManifestFile)
	for _, mf := range manifests {
		if _, ok := groups[mf.SpecID]; !ok {
			order = append(order, mf.SpecID)
		}
		groups[mf.SpecID] = append(groups[mf.SpecID], mf)
	}

	var out []ManifestFile
	var written []string
	for _, specID := range order {
		group := groups[specID]
		if len(group) < max(m.MinCountToMerge, 2) {
			out = append(out, group...)
			continue
		}
		for _, bin := range packBins(group, m.TargetSizeBytes) {
			if len(bin) == 1 {
				out = append(out, bin[0])
				continue
			}
			merged, err := mergeBin(ctx, fio, snapshotID, bin, newPath())
			if err != nil {
				return nil, written, err
			}
			written = append(written, merged.Path)
			out = append(out, merged)
		}
	}
	return out, written, nil
}

func packBins(group []ManifestFile, target int64) [][]ManifestFile {
	var bins [][]ManifestFile
	var cur []ManifestFile
	var size int64
	for _, mf := range group {
		if len(cur) > 0 && size+mf.Length > target {
			bins = append(bins, cur)
			cur, size = nil, 0
		}
		cur = append(cur, mf)
		size += mf.Length
	}
	if len(cur) > 0 {
		bins = append(bins, cur)
	}
	return bins
}

func mergeBin(ctx context.Context, fio FileIO, snapshotID int64, bin []ManifestFile, path string) (ManifestFile, error) {
	read := make([]*Manifest, len(bin))
	latest := 0
	for i, mf := range bin {
		m, err := ReadManifest(ctx, fio, mf)
		if err != nil {
			return ManifestFile{}, err
		}
		read[i] = m
		if m.Schema.ID > read[latest].Schema.ID {
			latest = i
		}
	}

	// the newest schema's partition types widen every older tuple
	w, err := NewWriter(read[latest].Spec, read[latest].Schema, snapshotID)
	if err != nil {
		return ManifestFile{}, err
	}
	for _, m := range read {
		for _, e := range m.Entries {
			switch {
			case e.SnapshotID == snapshotID && e.Status != StatusExisting:
				err = w.AddEntry(e)
			case e.IsLive():
				err = w.Existing(e)
			default:
				continue
			}
			if err != nil {
				return ManifestFile{}, err
			}
		}
	}
	return w.Write(ctx, fio, path)
}
