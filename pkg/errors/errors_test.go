package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

var testCode = MustNewCode("test.code")

func TestNewCode(t *testing.T) {
	for _, s := range []string{"schema.duplicate_name", "commit.conflict", "storage.unavailable"} {
		code, err := NewCode(s)
		if err != nil {
			t.Errorf("Expected valid code '%s' to succeed, got error: %v", s, err)
		}
		if code.String() != s {
			t.Errorf("Expected code string '%s', got '%s'", s, code.String())
		}
	}

	for _, s := range []string{"invalid", "schema.", ".name", "Schema.name", "schema.bad-name", "schema..name", "err.name", "schema.parse_error"} {
		if _, err := NewCode(s); err == nil {
			t.Errorf("Expected invalid code '%s' to fail", s)
		}
	}
}

func TestCodeParts(t *testing.T) {
	if CommitConflict.Package() != "commit" || CommitConflict.Name() != "conflict" {
		t.Errorf("unexpected parts for %s", CommitConflict)
	}
}

func TestNew(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := New(testCode, "write failed", cause)

	if err.Message != "write failed" {
		t.Errorf("Expected message 'write failed', got '%s'", err.Message)
	}
	if err.Error() != "write failed: disk on fire" {
		t.Errorf("unexpected Error(): %s", err.Error())
	}
	if err.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if len(err.Stack) == 0 {
		t.Error("Expected stack trace to be captured")
	}
	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
}

func TestNewfAndWrapf(t *testing.T) {
	err := Newf(testCode, "field %d missing", 7)
	if err.Message != "field 7 missing" || err.Cause != nil {
		t.Errorf("unexpected Newf result: %+v", err)
	}

	cause := fmt.Errorf("boom")
	wrapped := Wrapf(testCode, cause, "reading %s", "x.avro")
	if wrapped.Cause != cause || wrapped.Message != "reading x.avro" {
		t.Errorf("unexpected Wrapf result: %+v", wrapped)
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := New(CommitConflict, "lost swap", nil)
	outer := fmt.Errorf("append: %w", inner)

	if !Is(outer, CommitConflict) {
		t.Error("Expected Is to find code through fmt wrapping")
	}
	if !IsCommitConflict(outer) || !IsRetryable(outer) {
		t.Error("Expected commit conflict to be retryable")
	}
	if !stderrors.Is(outer, New(CommitConflict, "other message", nil)) {
		t.Error("Expected errors.Is to match by code")
	}
}

func TestCategories(t *testing.T) {
	cases := []struct {
		err       error
		check     func(error) bool
		retryable bool
	}{
		{New(SchemaDuplicateName, "dup", nil), IsSchemaEvolution, false},
		{New(SchemaIllegalPromotion, "promo", nil), IsSchemaEvolution, false},
		{New(PartitionInvalidTransform, "bad", nil), IsPartitionSpec, false},
		{New(ValidationMissingFile, "gone", nil), IsValidation, false},
		{New(CorruptMetadata, "junk", nil), IsCorruptMetadata, false},
		{New(StorageUnavailable, "down", nil), IsStorageUnavailable, true},
	}
	for _, c := range cases {
		if !c.check(c.err) {
			t.Errorf("category check failed for %v", c.err)
		}
		if IsRetryable(c.err) != c.retryable {
			t.Errorf("retryable mismatch for %v", c.err)
		}
	}
	if IsSchemaEvolution(New(PartitionInvalidSpec, "x", nil)) {
		t.Error("partition error must not be a schema evolution error")
	}
}

func TestContextAndFormat(t *testing.T) {
	err := New(CommitConflict, "retries exhausted", nil).
		AddContext("base_snapshot_id", "1").
		AddContext("attempted_snapshot_id", "2")

	if GetCode(err) != "commit.conflict" {
		t.Errorf("unexpected code %s", GetCode(err))
	}
	if GetContext(err)["attempted_snapshot_id"] != "2" {
		t.Error("Expected context to be preserved")
	}
	out := FormatError(err)
	if !strings.Contains(out, "attempted_snapshot_id: 2") || strings.Index(out, "attempted") > strings.Index(out, "base_snapshot") {
		t.Errorf("unexpected formatting:\n%s", out)
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("Expected nil for nil input")
	}
	own := New(testCode, "mine", nil)
	if AsError(fmt.Errorf("wrapped: %w", own)) != own {
		t.Error("Expected AsError to unwrap to the existing *Error")
	}
	foreign := AsError(stderrors.New("plain"))
	if foreign.Code != CommonInternal || foreign.Message != "plain" {
		t.Errorf("unexpected conversion: %+v", foreign)
	}
}

func TestAddContextHelper(t *testing.T) {
	if AddContext(nil, "k", "v") != nil {
		t.Error("Expected nil for nil input")
	}
	own := New(testCode, "mine", nil)
	if got := AddContext(own, "column", "id"); got != own || own.Context["column"] != "id" {
		t.Errorf("Expected context on the original error, got %+v", got)
	}
	foreign := AddContext(stderrors.New("plain"), "path", "a.parquet")
	if GetContext(foreign)["path"] != "a.parquet" || GetCode(foreign) != CommonInternal.String() {
		t.Errorf("unexpected wrapping: %v", foreign)
	}
}
