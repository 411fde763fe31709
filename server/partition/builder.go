package partition

import (
	"fmt"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
)

// Builder assembles a Spec against a schema, reporting the first invalid
// field from Build.
type Builder struct {
	schema *schema.Schema
	specID int
	lastID int
	fields []Field
	err    error
}

func NewBuilder(sch *schema.Schema) *Builder {
	return &Builder{schema: sch, lastID: FirstFieldID - 1}
}

func (b *Builder) WithSpecID(id int) *Builder {
	b.specID = id
	return b
}

// WithLastAssignedFieldID continues field ids after an existing spec's
func (b *Builder) WithLastAssignedFieldID(id int) *Builder {
	b.lastID = max(id, FirstFieldID-1)
	return b
}

func (b *Builder) Identity(source string) *Builder {
	return b.AddField(source, IdentityTransform{}, "")
}

func (b *Builder) Bucket(source string, numBuckets int) *Builder {
	return b.AddField(source, BucketTransform{NumBuckets: numBuckets}, "")
}

func (b *Builder) Truncate(source string, width int) *Builder {
	return b.AddField(source, TruncateTransform{Width: width}, "")
}

func (b *Builder) Year(source string) *Builder  { return b.AddField(source, YearTransform{}, "") }
func (b *Builder) Month(source string) *Builder { return b.AddField(source, MonthTransform{}, "") }
func (b *Builder) Day(source string) *Builder   { return b.AddField(source, DayTransform{}, "") }
func (b *Builder) Hour(source string) *Builder  { return b.AddField(source, HourTransform{}, "") }
func (b *Builder) Void(source string) *Builder  { return b.AddField(source, VoidTransform{}, "") }

// AddField adds a partition field; an empty name picks the default for the
// transform.
func (b *Builder) AddField(source string, t Transform, name string) *Builder {
	if b.err != nil {
		return b
	}
	src, ok := b.schema.FindFieldByName(source)
	if !ok {
		b.err = errors.Newf(errors.PartitionUnknownSource, "cannot find source column %q", source)
		return b
	}
	if err := checkParameters(t); err != nil {
		b.err = err
		return b
	}
	if !t.CanTransform(src.Type) {
		b.err = errors.Newf(errors.PartitionInvalidTransform, "transform %s cannot be applied to %s column %q", t, src.Type, source)
		return b
	}
	if name == "" {
		name = DefaultFieldName(source, t)
	}
	for _, f := range b.fields {
		if f.Name == name {
			b.err = errors.Newf(errors.PartitionInvalidSpec, "duplicate partition field name %q", name)
			return b
		}
		if f.SourceID == src.ID && f.Transform.String() == t.String() {
			b.err = errors.Newf(errors.PartitionInvalidSpec, "column %q is already partitioned by %s", source, t)
			return b
		}
	}
	// a partition name may shadow a column only as that column's identity
	if other, clash := b.schema.FindFieldByName(name); clash {
		if _, identity := t.(IdentityTransform); !identity || other.ID != src.ID {
			b.err = errors.Newf(errors.PartitionInvalidSpec, "partition name %q conflicts with a schema column", name)
			return b
		}
	}

	b.lastID++
	b.fields = append(b.fields, Field{SourceID: src.ID, FieldID: b.lastID, Name: name, Transform: t})
	return b
}

func checkParameters(t Transform) error {
	switch x := t.(type) {
	case BucketTransform:
		if x.NumBuckets <= 0 {
			return errors.Newf(errors.PartitionInvalidTransform, "bucket count must be positive, got %d", x.NumBuckets)
		}
	case TruncateTransform:
		if x.Width <= 0 {
			return errors.Newf(errors.PartitionInvalidTransform, "truncate width must be positive, got %d", x.Width)
		}
	case nil:
		return errors.New(errors.PartitionInvalidTransform, "transform is required", nil)
	}
	return nil
}

// DefaultFieldName names a partition field after its source and transform
func DefaultFieldName(source string, t Transform) string {
	switch x := t.(type) {
	case IdentityTransform:
		return source
	case BucketTransform:
		return fmt.Sprintf("%s_bucket_%d", source, x.NumBuckets)
	case TruncateTransform:
		return fmt.Sprintf("%s_trunc_%d", source, x.Width)
	case YearTransform:
		return source + "_year"
	case MonthTransform:
		return source + "_month"
	case DayTransform:
		return source + "_day"
	case HourTransform:
		return source + "_hour"
	case VoidTransform:
		return source + "_null"
	}
	return source + "_" + t.String()
}

func (b *Builder) Build() (Spec, error) {
	if b.err != nil {
		return Spec{}, b.err
	}
	fields := b.fields
	if fields == nil {
		fields = []Field{}
	}
	return Spec{ID: b.specID, Fields: fields}, nil
}
