package chromemdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"studyscope/internal/chromemdb"
)

func newIndex(t *testing.T) *chromemdb.VectorDBManager {
	t.Helper()
	m, err := chromemdb.NewVectorDBManager("notes", false, "", nil)
	gt.NoError(t, err).Required()
	return m
}

func seed(t *testing.T, m *chromemdb.VectorDBManager) {
	t.Helper()
	docs := []chromemdb.Document{
		{Position: 0, Source: "a.pdf", Embedding: []float32{1, 0, 0}},
		{Position: 1, Source: "a.pdf", Embedding: []float32{0, 1, 0}},
		{Position: 2, Source: "b.pdf", Embedding: []float32{0.6, 0.8, 0}},
	}
	gt.NoError(t, m.CreateDocs(context.Background(), docs)).Required()
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	m := newIndex(t)
	seed(t, m)
	gt.Value(t, m.Count()).Equal(3)

	results, err := m.Search(ctx, []float32{1, 0, 0}, 3)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(3)
	gt.Value(t, results[0].Position).Equal(0)
	gt.Value(t, results[0].Score).Equal(float32(1))
	gt.Value(t, results[1].Position).Equal(2)
	gt.Bool(t, results[1].Score > results[2].Score).True()
}

func TestSearchClampsK(t *testing.T) {
	ctx := context.Background()
	m := newIndex(t)
	gt.NoError(t, m.CreateDocs(ctx, []chromemdb.Document{
		{Position: 0, Embedding: []float32{0, 1}},
	})).Required()

	results, err := m.Search(ctx, []float32{0, 1}, 3)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(1)
	gt.Value(t, results[0].Position).Equal(0)
}

func TestSearchEmptyIndex(t *testing.T) {
	m := newIndex(t)
	results, err := m.Search(context.Background(), []float32{1, 0}, 3)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(0)

	_, err = m.Search(context.Background(), nil, 3)
	gt.Error(t, err)
}

func TestCreateDocsRequiresEmbedding(t *testing.T) {
	m := newIndex(t)
	err := m.CreateDocs(context.Background(), []chromemdb.Document{{Position: 0}})
	gt.Error(t, err)
	gt.Value(t, m.Count()).Equal(0)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), chromemdb.IndexFileName(false, false))

	src := newIndex(t)
	seed(t, src)
	gt.NoError(t, src.Export(path)).Required()

	dst := newIndex(t)
	gt.NoError(t, dst.Import(path)).Required()
	gt.Value(t, dst.Count()).Equal(3)

	vec, err := dst.Embedding(ctx, 2)
	gt.NoError(t, err).Required()
	gt.Array(t, vec).Length(3)

	results, err := dst.Search(ctx, []float32{0, 1, 0}, 1)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(1)
	gt.Value(t, results[0].Position).Equal(1)
}

func TestImportMissingFile(t *testing.T) {
	m := newIndex(t)
	gt.Error(t, m.Import(filepath.Join(t.TempDir(), "missing.gob")))
}

func TestIndexFileName(t *testing.T) {
	gt.Value(t, chromemdb.IndexFileName(false, false)).Equal("index.gob")
	gt.Value(t, chromemdb.IndexFileName(true, true)).Equal("index.gob.gz.enc")
}

func TestZeroVectorIsNotSearchable(t *testing.T) {
	ctx := context.Background()
	m := newIndex(t)
	docs := []chromemdb.Document{
		{Position: 0, Source: "bullets.pdf", Embedding: []float32{0, 0, 0}},
		{Position: 1, Source: "notes.pdf", Embedding: []float32{0, 1, 0}},
	}
	gt.NoError(t, m.CreateDocs(ctx, docs)).Required()
	gt.Value(t, m.Count()).Equal(2)

	check := func(t *testing.T, m *chromemdb.VectorDBManager) {
		t.Helper()
		// the placeholder direction would score 1 here if it were searchable
		results, err := m.Search(ctx, []float32{1, 0, 0}, 2)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1)
		gt.Value(t, results[0].Position).Equal(1)

		vec, err := m.Embedding(ctx, 0)
		gt.NoError(t, err).Required()
		gt.Value(t, vec).Equal([]float32{0, 0, 0})
	}
	check(t, m)

	path := filepath.Join(t.TempDir(), chromemdb.IndexFileName(false, false))
	gt.NoError(t, m.Export(path)).Required()
	restored := newIndex(t)
	gt.NoError(t, restored.Import(path)).Required()
	check(t, restored)
}

func TestSearchOnlyPlaceholders(t *testing.T) {
	ctx := context.Background()
	m := newIndex(t)
	gt.NoError(t, m.CreateDocs(ctx, []chromemdb.Document{{Position: 0, Embedding: []float32{0, 0}}})).Required()

	results, err := m.Search(ctx, []float32{1, 0}, 3)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(0)
}
