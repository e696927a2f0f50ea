// Package errors derives low-cardinality error classes for metric tags.
package errors

import (
	"errors"
	"reflect"
	"strings"
)

// Classify reduces an error to a tag-safe type name, for example
// "net_operror" or "errors_errorstring". The innermost wrapped error is
// inspected because outer fmt.Errorf layers all share one type and would
// collapse every class into it. Returns "" for nil.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
