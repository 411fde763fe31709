package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Is reports whether any error in err's chain carries code
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code.Equals(code) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// HasPackage reports whether any error in err's chain has a code in pkg
func HasPackage(err error, pkg string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code.Package() == pkg {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// GetContext returns the context of the outermost *Error in err's chain
func GetContext(err error) map[string]string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Context
	}
	return nil
}

// AddContext annotates the outermost *Error in err's chain; foreign errors
// are wrapped as internal first
func AddContext(err error, key, value string) error {
	if err == nil {
		return nil
	}
	return AsError(err).AddContext(key, value)
}

// GetCode returns the code of the outermost *Error in err's chain
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code.String()
	}
	return ""
}

// FormatError renders err with its code and context for logs and the CLI
func FormatError(err error) string {
	e, ok := err.(*Error)
	if !ok {
		return err.Error()
	}
	parts := []string{
		fmt.Sprintf("Code: %s", e.Code),
		fmt.Sprintf("Message: %s", e.Message),
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, "Context:")
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, e.Context[k]))
		}
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}
	return strings.Join(parts, "\n")
}
