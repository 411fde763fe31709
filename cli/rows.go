package cli

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/data"
	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
	"github.com/tidwall/gjson"
)

// parseRows reads a JSON array of objects, or one object per line, into
// rows of sch. Missing keys and JSON nulls become null values.
func parseRows(sch *schema.Schema, raw []byte) ([]data.Row, error) {
	var (
		rows []data.Row
		err  error
	)
	add := func(obj gjson.Result) bool {
		var row data.Row
		row, err = parseRow(sch, obj)
		if err != nil {
			err = errors.AddContext(err, "row", strconv.Itoa(len(rows)))
			return false
		}
		rows = append(rows, row)
		return true
	}

	doc := gjson.ParseBytes(raw)
	if doc.IsArray() {
		doc.ForEach(func(_, obj gjson.Result) bool { return add(obj) })
	} else {
		gjson.ForEachLine(string(raw), func(line gjson.Result) bool {
			if strings.TrimSpace(line.Raw) == "" {
				return true
			}
			return add(line)
		})
	}
	return rows, err
}

func parseRow(sch *schema.Schema, obj gjson.Result) (data.Row, error) {
	if !obj.IsObject() {
		return nil, errors.New(ErrInvalidArgument, "row is not a JSON object", nil)
	}
	values := map[string]gjson.Result{}
	obj.ForEach(func(key, value gjson.Result) bool {
		values[key.String()] = value
		return true
	})

	fields := sch.Fields()
	row := make(data.Row, len(fields))
	for i, f := range fields {
		res, ok := values[f.Name]
		delete(values, f.Name)
		if !ok || res.Type == gjson.Null {
			continue
		}
		prim, isPrim := f.Type.(types.PrimitiveType)
		if !isPrim {
			return nil, errors.Newf(ErrInvalidArgument, "column %q has nested type %s", f.Name, f.Type)
		}
		v, err := jsonValue(prim, res)
		if err != nil {
			return nil, errors.AddContext(err, "column", f.Name)
		}
		row[i] = v
	}
	if len(values) > 0 {
		return nil, errors.Newf(ErrInvalidArgument, "unknown column %q", slices.Sorted(maps.Keys(values))[0])
	}
	return row, nil
}

func jsonValue(t types.PrimitiveType, res gjson.Result) (any, error) {
	switch t.ID {
	case types.BooleanID:
		if res.Type != gjson.True && res.Type != gjson.False {
			return types.ParseLiteral(t, res.String())
		}
		return res.Bool(), nil
	case types.IntID, types.LongID:
		if res.Type == gjson.Number {
			return res.Int(), nil
		}
	case types.FloatID, types.DoubleID:
		if res.Type == gjson.Number {
			return res.Float(), nil
		}
	}
	return types.ParseLiteral(t, res.String())
}

var comparisons = []struct {
	op    string
	build func(column string, v any) expr.Expression
}{
	{"!=", expr.NotEqual},
	{"<=", expr.LessThanEqual},
	{">=", expr.GreaterThanEqual},
	{"=", expr.Equal},
	{"<", expr.LessThan},
	{">", expr.GreaterThan},
}

// parseWhere turns clauses like "data=b" or "id>=10" into a filter; the
// clauses are combined with and. "col=null" and "col!=null" test nulls.
func parseWhere(sch *schema.Schema, clauses []string) (expr.Expression, error) {
	filter := expr.AlwaysTrue()
	for _, clause := range clauses {
		e, err := parseClause(sch, clause)
		if err != nil {
			return nil, err
		}
		filter = expr.And(filter, e)
	}
	return filter, nil
}

func parseClause(sch *schema.Schema, clause string) (expr.Expression, error) {
	idx := strings.IndexAny(clause, "!<>=")
	if idx <= 0 {
		return nil, errors.Newf(ErrInvalidArgument, "cannot parse filter %q", clause)
	}
	column := strings.TrimSpace(clause[:idx])
	rest := clause[idx:]
	for _, c := range comparisons {
		if !strings.HasPrefix(rest, c.op) {
			continue
		}
		value := strings.Trim(strings.TrimSpace(rest[len(c.op):]), `"'`)
		f, ok := sch.FindFieldByName(column)
		if !ok {
			return nil, errors.Newf(errors.SchemaUnknownField, "cannot find column %q", column)
		}
		if strings.EqualFold(value, "null") {
			switch c.op {
			case "=":
				return expr.IsNull(column), nil
			case "!=":
				return expr.NotNull(column), nil
			}
		}
		prim, isPrim := f.Type.(types.PrimitiveType)
		if !isPrim {
			return nil, errors.Newf(ErrInvalidArgument, "cannot compare nested column %q", column)
		}
		v, err := types.ParseLiteral(prim, value)
		if err != nil {
			return nil, err
		}
		return c.build(column, v), nil
	}
	return nil, errors.Newf(ErrInvalidArgument, "cannot parse filter %q", clause)
}
