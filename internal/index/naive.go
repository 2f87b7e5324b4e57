package index

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/coffersTech/loghell/internal/model"
	"github.com/valyala/fastjson"
)

// Naive is the default in-memory inverted index ("nonsense").
//
// Every top-level scalar member of an entry is indexed under its own name,
// and every scalar member of a top-level object under "parent.child".
// Objects nested deeper than that are ignored.
type Naive struct {
	mu     sync.RWMutex
	fields map[string]map[string]map[model.Key]int64 // field : { value : { key : created at } }
	clock  *model.Clock
	parser fastjson.ParserPool
}

// NewNaive creates an empty index stamping records with clock.
func NewNaive(clock *model.Clock) *Naive {
	return &Naive{
		fields: make(map[string]map[string]map[model.Key]int64),
		clock:  clock,
	}
}

type fact struct {
	field string
	value string
}

// Index records every field:value fact of data under key.
func (n *Naive) Index(key model.Key, data []byte) error {
	facts, err := n.extract(data)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	createdAt := n.clock.Now()
	for _, f := range facts {
		values, ok := n.fields[f.field]
		if !ok {
			values = make(map[string]map[model.Key]int64)
			n.fields[f.field] = values
		}
		keys, ok := values[f.value]
		if !ok {
			keys = make(map[model.Key]int64)
			values[f.value] = keys
		}
		keys[key] = createdAt
	}
	return nil
}

// extract parses data and flattens it into field:value facts. Nothing
// parsed by fastjson outlives the pooled parser.
func (n *Naive) extract(data []byte) ([]fact, error) {
	p := n.parser.Get()
	defer n.parser.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("%w: nonsense index can't work without objects", ErrDecode)
	}

	var facts []fact
	obj.Visit(func(name []byte, value *fastjson.Value) {
		if value.Type() != fastjson.TypeObject {
			facts = append(facts, fact{field: string(name), value: stringify(value)})
			return
		}
		nested, _ := value.Object()
		nested.Visit(func(child []byte, value *fastjson.Value) {
			if value.Type() == fastjson.TypeObject {
				return
			}
			facts = append(facts, fact{field: string(name) + "." + string(child), value: stringify(value)})
		})
	})
	return facts, nil
}

// stringify renders a scalar the way it is queried: strings without their
// quotes, everything else as compact JSON with quotes removed.
func stringify(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		b, _ := v.StringBytes()
		return string(b)
	}
	return strings.ReplaceAll(v.String(), `"`, "")
}

// Find returns the keys matching query created at or after skip.
func (n *Naive) Find(query string, skip model.Watermark) ([]model.Key, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	values, ok := n.fields[q.Field]
	if !ok {
		return nil, ErrNotFound
	}
	keys, ok := values[q.Value]
	if !ok || len(keys) == 0 {
		return nil, ErrNotFound
	}

	type hit struct {
		key       model.Key
		createdAt int64
	}
	hits := make([]hit, 0, len(keys))
	for k, createdAt := range keys {
		if createdAt >= int64(skip) {
			hits = append(hits, hit{key: k, createdAt: createdAt})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.createdAt, b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})

	result := make([]model.Key, len(hits))
	for i, h := range hits {
		result[i] = h.key
	}
	return result, nil
}

// Watermark returns a cursor no existing record has reached yet.
func (n *Naive) Watermark() model.Watermark {
	return model.Watermark(n.clock.Peek())
}
