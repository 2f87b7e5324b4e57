package index

import (
	"testing"
	"time"

	"github.com/coffersTech/loghell/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	log1 = `{"level":"debug","message":"test-1"}`
	log2 = `{"level":"info","message":"test-2"}`
	log3 = `{"level":"error","message":"test-3"}`
	log4 = `{"level":"debug","message":"test-4"}`
)

func fill(t *testing.T, idx Index) {
	t.Helper()
	for i, l := range []string{log1, log2, log3, log4} {
		require.NoError(t, idx.Index(model.Key(i+1), []byte(l)))
	}
}

func TestNaive_FindByLevel(t *testing.T) {
	idx := NewNaive(model.NewClock())
	fill(t, idx)

	tests := []struct {
		query string
		want  []model.Key
	}{
		{"level:debug", []model.Key{1, 4}},
		{"level:info", []model.Key{2}},
		{"level:error", []model.Key{3}},
		{"message:test-3", []model.Key{3}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			keys, err := idx.Find(tt.query, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestNaive_NotFound(t *testing.T) {
	idx := NewNaive(model.NewClock())
	fill(t, idx)

	_, err := idx.Find("level:unknown", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = idx.Find("service:api", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNaive_QuerySyntax(t *testing.T) {
	idx := NewNaive(model.NewClock())
	fill(t, idx)

	for _, q := range []string{"", "level", ":debug"} {
		_, err := idx.Find(q, 0)
		assert.ErrorIs(t, err, ErrQuerySyntax, q)
	}
}

func TestNaive_RejectsNonObjects(t *testing.T) {
	idx := NewNaive(model.NewClock())

	for _, data := range []string{`0`, `"text"`, `[{"level":"debug"}]`, `{"level":`, `null`} {
		err := idx.Index(1, []byte(data))
		assert.ErrorIs(t, err, ErrDecode, data)
	}
	_, err := idx.Find("level:debug", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNaive_NestedOneLevel(t *testing.T) {
	idx := NewNaive(model.NewClock())
	entry := `{"level":"warn","http":{"method":"GET","status":500,"req":{"path":"/x"}},"ok":false,"tags":["a","b"],"n":null}`
	require.NoError(t, idx.Index(7, []byte(entry)))

	for _, q := range []string{
		"level:warn",
		"http.method:GET",
		"http.status:500",
		"ok:false",
		"tags:[a,b]",
		"n:null",
	} {
		keys, err := idx.Find(q, 0)
		require.NoError(t, err, q)
		assert.Equal(t, []model.Key{7}, keys, q)
	}

	// Deeper levels are never indexed.
	for _, q := range []string{"http.req.path:/x", "http.req:/x", "http:GET"} {
		_, err := idx.Find(q, 0)
		assert.ErrorIs(t, err, ErrNotFound, q)
	}
}

func TestNaive_ValueWithColon(t *testing.T) {
	idx := NewNaive(model.NewClock())
	require.NoError(t, idx.Index(1, []byte(`{"time":"12:30:00"}`)))

	keys, err := idx.Find("time:12:30:00", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.Key{1}, keys)
}

func TestNaive_Watermark(t *testing.T) {
	now := time.Unix(0, 1000)
	clock := model.NewClockFunc(func() time.Time { return now })
	idx := NewNaive(clock)

	require.NoError(t, idx.Index(1, []byte(log1)))
	mark := idx.Watermark()
	now = now.Add(time.Second)
	require.NoError(t, idx.Index(4, []byte(log4)))

	keys, err := idx.Find("level:debug", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.Key{1, 4}, keys)

	keys, err = idx.Find("level:debug", mark)
	require.NoError(t, err)
	assert.Equal(t, []model.Key{4}, keys)

	// A watermark past everything yields an empty, non-nil-error result.
	keys, err = idx.Find("level:debug", idx.Watermark())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNaive_WatermarkWithFrozenClock(t *testing.T) {
	frozen := time.Unix(0, 5000)
	idx := NewNaive(model.NewClockFunc(func() time.Time { return frozen }))

	require.NoError(t, idx.Index(1, []byte(log1)))
	mark := idx.Watermark()
	require.NoError(t, idx.Index(2, []byte(log4)))

	keys, err := idx.Find("level:debug", mark)
	require.NoError(t, err)
	assert.Equal(t, []model.Key{2}, keys)
}

func TestNew(t *testing.T) {
	idx, err := New(Options{Name: "nonsense", Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &Naive{}, idx)

	_, err = New(Options{Name: "tantivy", Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = New(Options{Name: "tantivy", Fields: []FieldSpec{{Name: "message", Type: "blob"}}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotImplemented)

	_, err = New(Options{Name: "lucene"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestValidateFields(t *testing.T) {
	assert.NoError(t, ValidateFields([]FieldSpec{{Name: "message", Type: "text", Stored: true}, {Name: "level", Type: "string"}}))
	assert.Error(t, ValidateFields([]FieldSpec{{Name: "", Type: "text"}}))
	assert.Error(t, ValidateFields([]FieldSpec{{Name: "a", Type: "text"}, {Name: "a", Type: "i64"}}))
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("http.method:GET")
	require.NoError(t, err)
	assert.Equal(t, Query{Field: "http.method", Value: "GET"}, q)
	assert.Equal(t, "http.method:GET", q.String())

	q, err = ParseQuery("level:")
	require.NoError(t, err)
	assert.Equal(t, Query{Field: "level"}, q)
}
