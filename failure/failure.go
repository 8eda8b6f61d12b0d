// Package failure attaches structured diagnostics to the sentinel errors returned by
// the unlock pipeline and renders them for display at the outermost boundary.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Field is one piece of diagnostic context, e.g. a path or the stderr of a tool.
type Field struct {
	Key   string
	Value string
}

// Error tags a sentinel kind with an optional cause and diagnostic fields.
// errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	kind   error
	cause  error
	fields []Field
}

// New returns an Error of the given kind.
func New(kind error) *Error {
	return &Error{kind: kind}
}

// With appends a key/value field. Empty values are dropped.
func (e *Error) With(key, value string) *Error {
	if value == "" {
		return e
	}
	e.fields = append(e.fields, Field{Key: key, Value: value})
	return e
}

// WithPath attaches a filesystem path.
func (e *Error) WithPath(path string) *Error {
	return e.With("path", path)
}

// Wrap records the lower level error that caused this one.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) Kind() error     { return e.kind }
func (e *Error) Cause() error    { return e.cause }
func (e *Error) Fields() []Field { return e.fields }

// Field returns the value of the first field with the given key.
func (e *Error) Field(key string) (string, bool) {
	for _, f := range e.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// FieldOf finds the first *Error in err's chain carrying key.
func FieldOf(err error, key string) (string, bool) {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return "", false
		}
		if v, ok := fe.Field(key); ok {
			return v, true
		}
		err = fe.cause
	}
	return "", false
}

// Render prints the whole chain, outermost first, one kind per line followed by its fields.
//
//	Partition does not exist
//	├╴ path: /dev/sdz1
func Render(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	depth := 0
	for err != nil {
		indent := strings.Repeat("  ", depth)
		fe, ok := err.(*Error)
		if !ok {
			fmt.Fprintf(&b, "%s%s\n", indent, err)
			break
		}
		fmt.Fprintf(&b, "%s%s\n", indent, capitalize(fe.kind.Error()))
		for _, f := range fe.fields {
			fmt.Fprintf(&b, "%s├╴ %s: %s\n", indent, f.Key, f.Value)
		}
		err = fe.cause
		depth++
	}
	return strings.TrimRight(b.String(), "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
