package jsonl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/pipeline"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/schema"
	"github.com/rowflow/rowflow/pkg/types"
)

var (
	_ pipeline.LimitableSource           = (*Source)(nil)
	_ pipeline.PartitionFilterableSource = (*Source)(nil)
	_ pipeline.Finalizer                 = (*Sink)(nil)
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func drain(t *testing.T, s *Source) []row.Rows {
	t.Helper()
	var out []row.Rows
	for rows, err := range s.Extract(context.Background()) {
		require.NoError(t, err)
		out = append(out, rows)
	}
	return out
}

func TestReadInfersTypes(t *testing.T) {
	src, err := NewReaderSource(strings.NewReader(
		`{"id": 1, "price": 9.5, "name": "a", "tags": ["x", "y"]}` + "\n" +
			`{"id": 2, "price": 1, "name": null}` + "\n"))
	require.NoError(t, err)

	batches := drain(t, src)
	require.Len(t, batches, 1)
	first := batches[0].At(0)

	id, err := first.Get("id")
	require.NoError(t, err)
	assert.Equal(t, types.KindInteger, id.Type().Kind)

	price, err := first.Get("price")
	require.NoError(t, err)
	assert.Equal(t, 9.5, price.Value())

	tags, err := first.Get("tags")
	require.NoError(t, err)
	assert.Equal(t, "list<string>", tags.Type().String())

	name, err := batches[0].At(1).Get("name")
	require.NoError(t, err)
	assert.True(t, name.IsNull())
}

func TestReadWithSchema(t *testing.T) {
	sc := schema.Must(
		schema.Integer("id", false),
		schema.Float("price", false),
		schema.String("note", true),
	)
	src, err := NewReaderSource(strings.NewReader(`{"price": 3, "id": "7", "extra": true}`), WithSchema(sc))
	require.NoError(t, err)

	batches := drain(t, src)
	require.Len(t, batches, 1)
	r := batches[0].At(0)
	assert.Equal(t, []string{"id", "price", "note", "extra"}, r.Names())
	assert.Equal(t, map[string]interface{}{
		"id": int64(7), "price": 3.0, "note": nil, "extra": true,
	}, r.ToMap())
}

func TestReadWithSchemaRejectsMissingRequiredEntry(t *testing.T) {
	sc := schema.Must(schema.Integer("id", false), schema.String("note", true))
	src, err := NewReaderSource(strings.NewReader(`{"id": 1}`+"\n"+`{"note": "x"}`+"\n"), WithSchema(sc))
	require.NoError(t, err)

	var failure error
	for _, err := range src.Extract(context.Background()) {
		if err != nil {
			failure = err
		}
	}
	require.Error(t, failure)
	assert.Contains(t, failure.Error(), `entry "id" is required`)

	var cause *errors.Error
	require.True(t, errors.As(failure, &cause))
	line, ok := cause.Detail("line")
	require.True(t, ok)
	assert.Equal(t, 2, line)

	var inner *errors.Error
	require.True(t, errors.As(cause.Cause, &inner))
	assert.Equal(t, errors.ErrorTypeInvalidArgument, inner.Type)
}

func TestPartitionedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "country=PL", "part-0.jsonl"), `{"id": 1}`+"\n"+`{"id": 2}`+"\n")
	writeFile(t, filepath.Join(dir, "country=US", "part-0.jsonl"), `{"id": 3}`+"\n")

	src, err := NewSource([]string{filepath.Join(dir, "*", "*.jsonl")},
		WithBatchSize(1), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	batches := drain(t, src)
	require.Len(t, batches, 3)
	p, ok := batches[2].Partitions().Get("country")
	require.True(t, ok)
	assert.Equal(t, "US", p.Value)

	src.AddPartitionFilter(partition.Equal("country", "US"))
	batches = drain(t, src)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(3), batches[0].At(0).ToMap()["id"])
}

func TestLimitSpansFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jsonl"), `{"id": 1}`+"\n"+`{"id": 2}`+"\n")
	writeFile(t, filepath.Join(dir, "b.jsonl"), `{"id": 3}`+"\n"+`{"id": 4}`+"\n")

	src, err := NewSource([]string{filepath.Join(dir, "*.jsonl")})
	require.NoError(t, err)
	src.SetLimit(3)

	total := 0
	for _, b := range drain(t, src) {
		total += b.Len()
	}
	assert.Equal(t, 3, total)
}

func TestInvalidInput(t *testing.T) {
	src, err := NewReaderSource(strings.NewReader(`{"id": 1}` + "\n" + `{"id": `))
	require.NoError(t, err)

	var failure error
	for _, err := range src.Extract(context.Background()) {
		if err != nil {
			failure = err
		}
	}
	require.Error(t, failure)
	assert.True(t, errors.IsType(failure, errors.ErrorTypeFile))

	_, err = NewSource(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = NewReaderSource(strings.NewReader(""), WithBatchSize(0))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	src, err = NewSource([]string{filepath.Join(t.TempDir(), "missing.jsonl")})
	require.NoError(t, err)
	for _, err := range src.Extract(context.Background()) {
		assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
	}
}

func TestSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf)
	rows := row.NewRows(
		row.Must(row.Int("id", 1), row.Str("name", "a")),
		row.Must(row.Int("id", 2), row.Null("name")),
	)
	require.NoError(t, sink.Load(context.Background(), rows))
	require.NoError(t, sink.Finalize(context.Background()))

	assert.Equal(t, `{"id":1,"name":"a"}`+"\n"+`{"id":2,"name":null}`+"\n", buf.String())
}

func TestSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rows.jsonl")
	sink, err := CreateSink(path)
	require.NoError(t, err)

	rows := row.NewRows(row.Must(row.Int("id", 1), row.Float("v", 1.5)))
	require.NoError(t, sink.Load(context.Background(), rows))
	require.NoError(t, sink.Finalize(context.Background()))

	src, err := NewSource([]string{path})
	require.NoError(t, err)
	batches := drain(t, src)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].Equal(rows))
}
