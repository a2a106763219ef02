package chromemdb

import (
	"context"
	"runtime"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	metaPosition = "position"
	metaSource   = "source"
	metaBatch    = "batch"
	// "false" marks a placeholder for a text without any embedding signal
	metaSearchable = "searchable"
)

// Document is one embedding at a fixed position of the index.
type Document struct {
	Position  int
	Source    string
	Batch     string
	Embedding []float32
}

// Result is a search hit: the matched position and its inner-product score.
type Result struct {
	Position int
	Score    float32
}

// VectorDBManager wraps an in-memory chromem-go collection that is persisted as a
// single exported file, so the whole index can be swapped in one step.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	compress      bool
	encryptionKey string
	embed         chromem.EmbeddingFunc
}

// NewVectorDBManager creates an empty index. embed is only used for text queries and
// may be nil when every document and query carries its own embedding.
func NewVectorDBManager(collectionName string, compress bool, encryptionKey string, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	m := &VectorDBManager{
		db:            chromem.NewDB(),
		name:          collectionName,
		compress:      compress,
		encryptionKey: encryptionKey,
		embed:         embed,
	}
	c, err := m.db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create/get collection", goerr.V("collection", collectionName))
	}
	m.collection = c
	return m, nil
}

// Count returns the number of embeddings in the index.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// CreateDocs adds documents to the index. A zero vector cannot be normalized, so
// such a document is stored with a placeholder vector and excluded from Search.
func (m *VectorDBManager) CreateDocs(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			return goerr.New("document has no embedding", goerr.V("position", doc.Position))
		}
		vec, searchable := doc.Embedding, "true"
		if isZero(vec) {
			vec, searchable = placeholder(len(vec)), "false"
		}
		chromemDocs[i] = chromem.Document{
			ID: strconv.Itoa(doc.Position),
			Metadata: map[string]string{
				metaPosition:   strconv.Itoa(doc.Position),
				metaSource:     doc.Source,
				metaBatch:      doc.Batch,
				metaSearchable: searchable,
			},
			Embedding: vec,
		}
	}

	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return goerr.Wrap(err, "failed to add documents", goerr.V("count", len(docs)))
	}
	return nil
}

// Search returns up to k nearest positions by inner product, best first. k is
// clamped to the index size; an empty index yields no results.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) == 0 {
		return nil, goerr.New("query embedding must be provided")
	}
	n := min(k, m.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       n,
		Where:          map[string]string{metaSearchable: "true"},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query by similarity")
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid document id in index", goerr.V("id", r.ID))
		}
		out = append(out, Result{Position: pos, Score: r.Similarity})
	}
	return out, nil
}

// Embedding returns the stored vector at position, or a zero vector for a
// placeholder.
func (m *VectorDBManager) Embedding(ctx context.Context, position int) ([]float32, error) {
	doc, err := m.collection.GetByID(ctx, strconv.Itoa(position))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("position", position))
	}
	if doc.Metadata[metaSearchable] == "false" {
		return make([]float32, len(doc.Embedding)), nil
	}
	return doc.Embedding, nil
}

// Export writes the collection to filePath.
func (m *VectorDBManager) Export(filePath string) error {
	log.Debug().
		Str("collection", m.name).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting vector index")

	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.name); err != nil {
		return goerr.Wrap(err, "failed to export index", goerr.V("file", filePath))
	}
	return nil
}

// Import replaces the collection with the one stored at filePath.
func (m *VectorDBManager) Import(filePath string) error {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, m.name); err != nil {
		return goerr.Wrap(err, "failed to import index", goerr.V("file", filePath))
	}
	c := m.db.GetCollection(m.name, m.embed)
	if c == nil {
		return goerr.New("collection missing from index file", goerr.V("file", filePath), goerr.V("collection", m.name))
	}
	m.collection = c
	return nil
}

// IndexFileName returns the export file name for the given persistence options.
func IndexFileName(compress, encrypted bool) string {
	name := "index.gob"
	if compress {
		name += ".gz"
	}
	if encrypted {
		name += ".enc"
	}
	return name
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func placeholder(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}
