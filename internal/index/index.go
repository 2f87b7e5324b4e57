package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coffersTech/loghell/internal/model"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownType    = errors.New("unknown index type")
	ErrNotImplemented = errors.New("index type is not implemented")
	ErrDecode         = errors.New("failed to decode data")
	ErrQuerySyntax    = errors.New("invalid query syntax")
	ErrNotFound       = errors.New("data not found")
)

// Index turns stored entries into field:value facts.
type Index interface {
	// Index records every indexable field of data under key.
	Index(key model.Key, data []byte) error
	// Find returns the keys matching query that were indexed at or after skip,
	// oldest first. It returns ErrNotFound when the field or value was never seen.
	Find(query string, skip model.Watermark) ([]model.Key, error)
	// Watermark returns a cursor that excludes everything indexed so far.
	Watermark() model.Watermark
}

// Type names an index backend.
type Type int

const (
	TypeUnknown Type = iota
	TypeNonsense
	TypeTantivy
)

func (t Type) String() string {
	switch t {
	case TypeNonsense:
		return "nonsense"
	case TypeTantivy:
		return "tantivy"
	default:
		return "unknown"
	}
}

// ParseType maps a configuration name to a Type.
func ParseType(name string) Type {
	switch name {
	case "nonsense":
		return TypeNonsense
	case "tantivy":
		return TypeTantivy
	default:
		return TypeUnknown
	}
}

// FieldSpec describes one structured field for the full-text backend.
type FieldSpec struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Stored bool   `json:"stored"`
}

var fieldTypes = map[string]bool{
	"text": true, "string": true, "i64": true, "u64": true,
	"f64": true, "bool": true, "date": true,
}

// ValidateFields checks a full-text field schema.
func ValidateFields(fields []FieldSpec) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field %d: empty name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q: declared twice", f.Name)
		}
		seen[f.Name] = true
		if !fieldTypes[f.Type] {
			return fmt.Errorf("field %q: unsupported type %q", f.Name, f.Type)
		}
	}
	return nil
}

// Options selects and configures a backend.
type Options struct {
	Name   string
	Fields []FieldSpec
	Clock  *model.Clock
	Logger zerolog.Logger
}

// New builds the index named by opts.Name.
func New(opts Options) (Index, error) {
	t := ParseType(opts.Name)
	var idx Index
	switch t {
	case TypeNonsense:
		clock := opts.Clock
		if clock == nil {
			clock = model.NewClock()
		}
		idx = NewNaive(clock)
	case TypeTantivy:
		if err := ValidateFields(opts.Fields); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, t)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Name)
	}
	opts.Logger.Info().Str("index_type", t.String()).Msg("using as an index")
	return idx, nil
}
