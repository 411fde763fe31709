package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/gear6io/stratum/server/data"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/table"
	"github.com/gear6io/stratum/server/types"
	"github.com/pterm/pterm"
)

func renderTable(rows pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func renderSchema(sch *schema.Schema) error {
	pterm.DefaultSection.Printfln("Schema %d", sch.ID)
	rows := pterm.TableData{{"ID", "Name", "Type", "Required", "Doc"}}
	for _, f := range sch.Fields() {
		rows = append(rows, []string{strconv.Itoa(f.ID), f.Name, f.Type.String(), strconv.FormatBool(f.Required), f.Doc})
	}
	return renderTable(rows)
}

func renderSpec(spec partition.Spec) error {
	pterm.DefaultSection.Printfln("Partition spec %d", spec.ID)
	if spec.IsUnpartitioned() {
		pterm.Info.Println("unpartitioned")
		return nil
	}
	rows := pterm.TableData{{"Field ID", "Name", "Source ID", "Transform"}}
	for _, f := range spec.Fields {
		rows = append(rows, []string{strconv.Itoa(f.FieldID), f.Name, strconv.Itoa(f.SourceID), f.Transform.String()})
	}
	return renderTable(rows)
}

func renderProperties(props map[string]string) error {
	if len(props) == 0 {
		return nil
	}
	pterm.DefaultSection.Println("Properties")
	rows := pterm.TableData{{"Key", "Value"}}
	for _, k := range slices.Sorted(maps.Keys(props)) {
		rows = append(rows, []string{k, props[k]})
	}
	return renderTable(rows)
}

func renderSnapshots(snaps []metadata.Snapshot, current *metadata.Snapshot) error {
	if len(snaps) == 0 {
		pterm.Info.Println("no snapshots")
		return nil
	}
	rows := pterm.TableData{{"", "Snapshot", "Parent", "Sequence", "Committed", "Operation", "Files", "Records"}}
	for _, s := range snaps {
		marker := ""
		if current != nil && current.ID == s.ID {
			marker = "*"
		}
		parent := "-"
		if s.ParentID != nil {
			parent = strconv.FormatInt(*s.ParentID, 10)
		}
		files, _ := s.Summary.Get(metadata.TotalDataFiles)
		records, _ := s.Summary.Get(metadata.TotalRecords)
		rows = append(rows, []string{
			marker,
			strconv.FormatInt(s.ID, 10),
			parent,
			strconv.FormatInt(s.SequenceNumber, 10),
			formatMillis(s.TimestampMs),
			string(s.Operation()),
			strconv.FormatInt(files, 10),
			strconv.FormatInt(records, 10),
		})
	}
	return renderTable(rows)
}

func renderTasks(tasks []table.FileScanTask) error {
	if len(tasks) == 0 {
		pterm.Info.Println("no data files")
		return nil
	}
	rows := pterm.TableData{{"Path", "Spec", "Partition", "Records", "Bytes"}}
	for _, t := range tasks {
		rows = append(rows, []string{
			t.File.Path,
			strconv.Itoa(t.SpecID),
			fmt.Sprint(t.Partition),
			strconv.FormatInt(t.File.RecordCount, 10),
			strconv.FormatInt(t.File.FileSizeBytes, 10),
		})
	}
	return renderTable(rows)
}

func renderRows(sch *schema.Schema, rows []data.Row) error {
	header := []string{}
	for _, f := range sch.Fields() {
		header = append(header, f.Name)
	}
	out := pterm.TableData{header}
	for _, r := range rows {
		line := make([]string, len(r))
		for i, v := range r {
			line[i] = types.FormatLiteral(v)
		}
		out = append(out, line)
	}
	if err := renderTable(out); err != nil {
		return err
	}
	pterm.Info.Printfln("%d rows", len(rows))
	return nil
}
