package index

import (
	"fmt"
	"strings"
)

// Query is a single field:value lookup. Field may name a nested member as
// "parent.child".
type Query struct {
	Field string
	Value string
}

// ParseQuery splits s on its first colon.
func ParseQuery(s string) (Query, error) {
	field, value, ok := strings.Cut(s, ":")
	if !ok || field == "" {
		return Query{}, fmt.Errorf("%w: %q", ErrQuerySyntax, s)
	}
	return Query{Field: field, Value: value}, nil
}

func (q Query) String() string {
	return q.Field + ":" + q.Value
}
