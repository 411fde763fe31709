package cli

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/data"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type tableCreateOptions struct {
	schemaFile string
	columns    []string
	partitions []string
	properties map[string]string
}

type tableFilesOptions struct {
	snapshotID int64
}

type tableAppendOptions struct {
	file string
}

type tableScanOptions struct {
	where      []string
	columns    []string
	snapshotID int64
	limit      int
}

type tableExpireOptions struct {
	olderThan  time.Duration
	retainLast int
}

type tablePropertiesOptions struct {
	set   map[string]string
	unset []string
}

type tableSchemaOptions struct {
	add      []string
	rename   map[string]string
	drop     []string
	promote  []string
	optional []string
}

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Create, write, scan and inspect tables",
		Long: `Manage tables in the warehouse.

A table argument is either a dotted name resolved under the warehouse
(db.events) or a full table location (s3://bucket/warehouse/db/events).

Examples:
  stratum table create db.events --column id:long:required --column data:string --partition data:identity
  stratum table append db.events --file rows.json
  stratum table scan db.events --where data=b
  stratum table history db.events`,
	}
	cmd.AddCommand(
		newTableCreateCmd(),
		&cobra.Command{
			Use:   "describe <table>",
			Short: "Show the schema, partition spec and current snapshot of a table",
			Args:  cobra.ExactArgs(1),
			RunE:  runTableDescribe,
		},
		&cobra.Command{
			Use:   "history <table>",
			Short: "Show the snapshots of a table, oldest first",
			Args:  cobra.ExactArgs(1),
			RunE:  runTableHistory,
		},
		newTableFilesCmd(),
		newTableAppendCmd(),
		newTableScanCmd(),
		&cobra.Command{
			Use:   "rollback <table> <snapshot-id>",
			Short: "Make an ancestor snapshot current again",
			Args:  cobra.ExactArgs(2),
			RunE:  runTableRollback,
		},
		newTableExpireCmd(),
		newTablePropertiesCmd(),
		newTableSchemaCmd(),
	)
	return cmd
}

func newTableCreateCmd() *cobra.Command {
	opts := &tableCreateOptions{}
	cmd := &cobra.Command{
		Use:   "create <table>",
		Short: "Create a new table",
		Long: `Create a table from columns given on the command line or a JSON schema file.

Columns are name:type or name:type:required. Partition fields are
column:transform with transforms identity, bucket[N], truncate[W], year,
month, day, hour and void.

Examples:
  stratum table create db.events --column id:long:required --column ts:timestamp --partition ts:day
  stratum table create db.events --schema schema.json --property commit.retry.num-retries=8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableCreate(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.schemaFile, "schema", "", "path to a JSON schema file")
	cmd.Flags().StringArrayVar(&opts.columns, "column", nil, "column as name:type[:required]")
	cmd.Flags().StringArrayVar(&opts.partitions, "partition", nil, "partition field as column:transform")
	cmd.Flags().StringToStringVar(&opts.properties, "property", nil, "table property key=value")
	return cmd
}

func newTableFilesCmd() *cobra.Command {
	opts := &tableFilesOptions{}
	cmd := &cobra.Command{
		Use:   "files <table>",
		Short: "List the live data files of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableFiles(cmd, args, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.snapshotID, "snapshot", 0, "list files of this snapshot instead of the current one")
	return cmd
}

func newTableAppendCmd() *cobra.Command {
	opts := &tableAppendOptions{}
	cmd := &cobra.Command{
		Use:   "append <table>",
		Short: "Append rows from a JSON file",
		Long: `Append rows read from a JSON array of objects or a file with one object per
line. Rows are split into one parquet file per partition and committed as a
single snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableAppend(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON file with the rows to append")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newTableScanCmd() *cobra.Command {
	opts := &tableScanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <table>",
		Short: "Read rows matching a filter",
		Long: `Plan a scan, pruning files by partition and column bounds, and print the
matching rows.

Examples:
  stratum table scan db.events --where data=b
  stratum table scan db.events --where "id>=10" --where "data!=null" --select id
  stratum table scan db.events --snapshot 2846329457302214`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableScan(cmd, args, opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.where, "where", "w", nil, "filter such as data=b or id>=10; repeated filters are and-ed")
	cmd.Flags().StringSliceVar(&opts.columns, "select", nil, "columns to return")
	cmd.Flags().Int64Var(&opts.snapshotID, "snapshot", 0, "scan this snapshot instead of the current one")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "stop after this many rows")
	return cmd
}

func newTableExpireCmd() *cobra.Command {
	opts := &tableExpireOptions{}
	cmd := &cobra.Command{
		Use:   "expire <table>",
		Short: "Remove old snapshots from table metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableExpire(cmd, args, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.olderThan, "older-than", 7*24*time.Hour, "expire snapshots committed before this long ago")
	cmd.Flags().IntVar(&opts.retainLast, "retain-last", 1, "always keep this many recent ancestors of the current snapshot")
	return cmd
}

func newTablePropertiesCmd() *cobra.Command {
	opts := &tablePropertiesOptions{}
	cmd := &cobra.Command{
		Use:   "properties <table>",
		Short: "Set or remove table properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableProperties(cmd, args, opts)
		},
	}
	cmd.Flags().StringToStringVar(&opts.set, "set", nil, "property key=value to set")
	cmd.Flags().StringSliceVar(&opts.unset, "unset", nil, "property keys to remove")
	return cmd
}

func newTableSchemaCmd() *cobra.Command {
	opts := &tableSchemaOptions{}
	cmd := &cobra.Command{
		Use:   "schema <table>",
		Short: "Evolve the schema of a table",
		Long: `Add, rename, drop and widen columns. Column ids never change, so existing
data files stay readable under the new schema.

Examples:
  stratum table schema db.events --add score:int
  stratum table schema db.events --rename data=payload --promote score:long`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableSchema(cmd, args, opts)
		},
	}
	cmd.Flags().StringArrayVar(&opts.add, "add", nil, "optional column to add as name:type")
	cmd.Flags().StringToStringVar(&opts.rename, "rename", nil, "column rename old=new")
	cmd.Flags().StringSliceVar(&opts.drop, "drop", nil, "columns to drop")
	cmd.Flags().StringArrayVar(&opts.promote, "promote", nil, "column type widening as name:type")
	cmd.Flags().StringSliceVar(&opts.optional, "optional", nil, "required columns to make optional")
	return cmd
}

// parseColumns builds a schema from name:type[:required] specs
func parseColumns(specs []string) (*schema.Schema, error) {
	fields := make([]types.NestedField, 0, len(specs))
	next, _ := schema.Counter(0)
	for _, spec := range specs {
		name, rest, ok := strings.Cut(spec, ":")
		if !ok || name == "" {
			return nil, errors.Newf(ErrInvalidArgument, "column %q must be name:type", spec)
		}
		required := false
		if typ, flag, found := cutLast(rest, ":"); found && flag == "required" {
			rest, required = typ, true
		}
		typ, err := types.ParseType(rest)
		if err != nil {
			return nil, errors.AddContext(err, "column", name)
		}
		fields = append(fields, types.NestedField{ID: next(), Name: name, Type: typ, Required: required})
	}
	// nested ids follow every top-level column
	for i := range fields {
		fields[i].Type = schema.AssignFreshTypeIDs(fields[i].Type, next)
	}
	return schema.NewSchema(0, fields...)
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func parsePartitions(sch *schema.Schema, specs []string) (partition.Spec, error) {
	b := partition.NewBuilder(sch)
	for _, spec := range specs {
		column, transform, ok := cutLast(spec, ":")
		if !ok {
			return partition.Spec{}, errors.Newf(ErrInvalidArgument, "partition %q must be column:transform", spec)
		}
		t, err := partition.ParseTransform(transform)
		if err != nil {
			return partition.Spec{}, err
		}
		b.AddField(column, t, "")
	}
	return b.Build()
}

func runTableCreate(cmd *cobra.Command, args []string, opts *tableCreateOptions) error {
	ctx := cmd.Context()
	e := envFrom(ctx)

	var (
		sch *schema.Schema
		err error
	)
	switch {
	case opts.schemaFile != "" && len(opts.columns) > 0:
		return errors.New(ErrInvalidArgument, "use either --schema or --column, not both", nil)
	case opts.schemaFile != "":
		raw, readErr := os.ReadFile(opts.schemaFile)
		if readErr != nil {
			return errors.New(ErrInvalidArgument, "failed to read schema file", readErr).AddContext("path", opts.schemaFile)
		}
		sch = &schema.Schema{}
		err = json.Unmarshal(raw, sch)
	case len(opts.columns) > 0:
		sch, err = parseColumns(opts.columns)
	default:
		return errors.New(ErrInvalidArgument, "a schema is required: pass --schema or --column", nil)
	}
	if err != nil {
		return err
	}
	spec, err := parsePartitions(sch, opts.partitions)
	if err != nil {
		return err
	}

	loc, err := e.location(args[0])
	if err != nil {
		return err
	}
	tbl, err := e.tables.Create(ctx, sch, spec, loc, opts.properties)
	if err != nil {
		e.logger.Error().Str("cmd", "table-create").Str("location", loc).Err(err).Msg("Failed to create table")
		return err
	}
	pterm.Success.Printfln("Created table %s at %s", args[0], tbl.Location())
	return nil
}

func runTableDescribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	meta := tbl.Metadata()
	pterm.DefaultSection.Println("Table")
	err = renderTable(pterm.TableData{
		{"Property", "Value"},
		{"Location", tbl.Location()},
		{"UUID", meta.TableUUID().String()},
		{"Format version", strconv.Itoa(meta.FormatVersion())},
		{"Metadata file", tbl.MetadataLocation()},
		{"Last updated", formatMillis(meta.LastUpdatedMs())},
		{"Snapshots", strconv.Itoa(len(meta.Snapshots()))},
	})
	if err != nil {
		return err
	}
	if err := renderSchema(tbl.Schema()); err != nil {
		return err
	}
	if err := renderSpec(tbl.Spec()); err != nil {
		return err
	}
	if snap := tbl.CurrentSnapshot(); snap != nil {
		pterm.DefaultSection.Println("Current snapshot")
		if err := renderSnapshots([]metadata.Snapshot{*snap}, snap); err != nil {
			return err
		}
	}
	return renderProperties(tbl.Properties())
}

func runTableHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	return renderSnapshots(tbl.Snapshots(), tbl.CurrentSnapshot())
}

func runTableFiles(cmd *cobra.Command, args []string, opts *tableFilesOptions) error {
	ctx := cmd.Context()
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	scan := tbl.NewScan()
	if cmd.Flags().Changed("snapshot") {
		scan = scan.UseSnapshot(opts.snapshotID)
	}
	tasks, err := scan.PlanTasks(ctx)
	if err != nil {
		return err
	}
	return renderTasks(tasks)
}

func runTableAppend(cmd *cobra.Command, args []string, opts *tableAppendOptions) error {
	ctx := cmd.Context()
	e := envFrom(ctx)
	tbl, err := e.load(ctx, args[0])
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(opts.file)
	if err != nil {
		return errors.New(ErrInvalidArgument, "failed to read rows file", err).AddContext("path", opts.file)
	}
	rows, err := parseRows(tbl.Schema(), raw)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		pterm.Warning.Println("no rows to append")
		return nil
	}

	w, err := data.NewPartitionedWriter(tbl.FileIO(), e.format, tbl.Schema(), tbl.Spec(), tbl.Location(), e.logger)
	if err != nil {
		return err
	}
	if err := w.Write(ctx, rows...); err != nil {
		return err
	}
	files, err := w.Close(ctx)
	if err != nil {
		return err
	}
	snap, err := tbl.NewAppend().AppendFiles(files...).Commit(ctx)
	if err != nil {
		e.logger.Error().Str("cmd", "table-append").Str("location", tbl.Location()).Err(err).Msg("Failed to commit append")
		return err
	}
	pterm.Success.Printfln("Appended %d rows in %d files as snapshot %d", len(rows), len(files), snap.ID)
	return nil
}

func runTableScan(cmd *cobra.Command, args []string, opts *tableScanOptions) error {
	ctx := cmd.Context()
	e := envFrom(ctx)
	tbl, err := e.load(ctx, args[0])
	if err != nil {
		return err
	}

	scan := tbl.NewScan()
	if cmd.Flags().Changed("snapshot") {
		scan = scan.UseSnapshot(opts.snapshotID)
	}
	sch, err := scan.TableSchema()
	if err != nil {
		return err
	}
	filter, err := parseWhere(sch, opts.where)
	if err != nil {
		return err
	}
	scan = scan.Filter(filter)
	if len(opts.columns) > 0 {
		scan = scan.Select(opts.columns...)
	}
	projected, err := scan.Schema()
	if err != nil {
		return err
	}

	var rows []data.Row
read:
	for task, err := range scan.PlanFiles(ctx) {
		if err != nil {
			return err
		}
		for row, err := range data.ReadTask(ctx, tbl.FileIO(), e.format, sch, task) {
			if err != nil {
				return err
			}
			rows = append(rows, row)
			if opts.limit > 0 && len(rows) >= opts.limit {
				break read
			}
		}
	}
	return renderRows(projected, rows)
}

func runTableRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.New(ErrInvalidArgument, "snapshot id must be an integer", err).AddContext("snapshot_id", args[1])
	}
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	snap, err := tbl.ManageSnapshots().RollbackTo(id).Commit(ctx)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Current snapshot of %s is now %d", args[0], snap.ID)
	return nil
}

func runTableExpire(cmd *cobra.Command, args []string, opts *tableExpireOptions) error {
	ctx := cmd.Context()
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-opts.olderThan).UnixMilli()
	expired, err := tbl.ExpireSnapshots().
		ExpireOlderThan(cutoff).
		RetainLast(opts.retainLast).
		Commit(ctx)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Expired %d snapshots", len(expired))
	return nil
}

func runTableProperties(cmd *cobra.Command, args []string, opts *tablePropertiesOptions) error {
	ctx := cmd.Context()
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	update := tbl.UpdateProperties()
	for k, v := range opts.set {
		update.Set(k, v)
	}
	for _, k := range opts.unset {
		update.Remove(k)
	}
	props, err := update.Commit(ctx)
	if err != nil {
		return err
	}
	return renderProperties(props)
}

func runTableSchema(cmd *cobra.Command, args []string, opts *tableSchemaOptions) error {
	ctx := cmd.Context()
	tbl, err := envFrom(ctx).load(ctx, args[0])
	if err != nil {
		return err
	}
	update := tbl.UpdateSchema()
	for _, spec := range opts.add {
		name, typ, ok := strings.Cut(spec, ":")
		if !ok {
			return errors.Newf(ErrInvalidArgument, "column %q must be name:type", spec)
		}
		t, err := types.ParseType(typ)
		if err != nil {
			return errors.AddContext(err, "column", name)
		}
		update.AddColumn("", name, t)
	}
	for from, to := range opts.rename {
		update.RenameColumn(from, to)
	}
	for _, name := range opts.drop {
		update.DeleteColumn(name)
	}
	for _, spec := range opts.promote {
		name, typ, ok := strings.Cut(spec, ":")
		if !ok {
			return errors.Newf(ErrInvalidArgument, "promotion %q must be name:type", spec)
		}
		t, err := types.ParsePrimitive(typ)
		if err != nil {
			return errors.AddContext(err, "column", name)
		}
		update.UpdateColumnType(name, t)
	}
	for _, name := range opts.optional {
		update.MakeColumnOptional(name)
	}
	sch, err := update.Commit(ctx)
	if err != nil {
		return err
	}
	return renderSchema(sch)
}
