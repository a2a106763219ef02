package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"studyscope/internal/chromemdb"
	"studyscope/internal/helper"
	"studyscope/internal/models"
)

const (
	currentFile    = "CURRENT"
	versionsDir    = "versions"
	manifestFile   = "manifest.json"
	chunksFile     = "chunks.json"
	collectionName = "notes"
)

// Store keeps one chunk store and one vector index per subject under root. Each
// commit writes the whole pair into a new version directory and then switches the
// subject's CURRENT pointer by rename, so a reader never sees a half-written pair.
type Store struct {
	root          string
	compress      bool
	encryptionKey string
	embed         chromem.EmbeddingFunc

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Store)

func WithCompression(compress bool) Option {
	return func(s *Store) { s.compress = compress }
}

// WithEncryptionKey encrypts exported indexes. The key must be 32 bytes.
func WithEncryptionKey(key string) Option {
	return func(s *Store) { s.encryptionKey = key }
}

// WithEmbeddingFunc sets the function chromem-go uses for text queries.
func WithEmbeddingFunc(f chromem.EmbeddingFunc) Option {
	return func(s *Store) { s.embed = f }
}

func New(root string, opts ...Option) *Store {
	s := &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

// Subject is a loaded chunk store and vector index pair. Position i of Index
// corresponds to Chunks[i].
type Subject struct {
	Name    string
	Version string
	Chunks  []models.Chunk
	Index   *chromemdb.VectorDBManager
}

// Empty reports whether the subject has no indexed chunks.
func (s *Subject) Empty() bool {
	return len(s.Chunks) == 0 || s.Index == nil || s.Index.Count() == 0
}

// Contents returns the chunk texts in position order.
func (s *Subject) Contents() []string {
	out := make([]string, len(s.Chunks))
	for i, c := range s.Chunks {
		out[i] = c.Content
	}
	return out
}

type manifest struct {
	Version   string    `json:"version"`
	Count     int       `json:"count"`
	IndexFile string    `json:"index_file"`
	CreatedAt time.Time `json:"created_at"`
}

type chunkFile struct {
	Chunks []models.Chunk `json:"chunks"`
}

// ValidateSubject rejects names that are not a single directory component.
func ValidateSubject(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." ||
		strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return goerr.Wrap(models.ErrInvalidSubject, "bad subject name", goerr.V("subject", name))
	}
	return nil
}

// SubjectDir returns the directory holding a subject's files.
func (s *Store) SubjectDir(name string) (string, error) {
	if err := ValidateSubject(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// ListSubjects returns the sorted subject names found under root.
func (s *Store) ListSubjects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(models.ErrNoSubjectsDir, "cannot list subjects", goerr.V("root", s.root))
		}
		return nil, goerr.Wrap(err, "failed to read subjects directory", goerr.V("root", s.root))
	}

	var subjects []string
	for _, e := range entries {
		if !e.IsDir() || ValidateSubject(e.Name()) != nil {
			continue
		}
		subjects = append(subjects, e.Name())
	}
	sort.Strings(subjects)
	return subjects, nil
}

// CreateSubject creates the subject directory if it does not exist yet.
func (s *Store) CreateSubject(name string) error {
	dir, err := s.SubjectDir(name)
	if err != nil {
		return err
	}
	return helper.CreateFolder(dir)
}

func (s *Store) newIndex() (*chromemdb.VectorDBManager, error) {
	return chromemdb.NewVectorDBManager(collectionName, s.compress, s.encryptionKey, s.embed)
}

// Load reads the committed pair of a subject. A subject without committed data is
// returned empty with no error.
func (s *Store) Load(ctx context.Context, name string) (*Subject, error) {
	dir, err := s.SubjectDir(name)
	if err != nil {
		return nil, err
	}
	index, err := s.newIndex()
	if err != nil {
		return nil, err
	}
	subject := &Subject{Name: name, Index: index}

	raw, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return subject, nil
		}
		return nil, goerr.Wrap(err, "failed to read current version", goerr.V("subject", name))
	}
	version := strings.TrimSpace(string(raw))
	versionDir := filepath.Join(dir, versionsDir, version)

	var m manifest
	if err := readJSON(filepath.Join(versionDir, manifestFile), &m); err != nil {
		return nil, goerr.Wrap(err, "failed to read manifest", goerr.V("subject", name), goerr.V("version", version))
	}
	var cf chunkFile
	if err := readJSON(filepath.Join(versionDir, chunksFile), &cf); err != nil {
		return nil, goerr.Wrap(err, "failed to read chunk store", goerr.V("subject", name), goerr.V("version", version))
	}
	if m.Count > 0 {
		if err := index.Import(filepath.Join(versionDir, m.IndexFile)); err != nil {
			return nil, goerr.Wrap(err, "failed to read vector index", goerr.V("subject", name), goerr.V("version", version))
		}
	}

	if len(cf.Chunks) != m.Count || index.Count() != m.Count {
		return nil, goerr.Wrap(models.ErrCorruptSubject, "count mismatch",
			goerr.V("subject", name),
			goerr.V("manifest", m.Count),
			goerr.V("chunks", len(cf.Chunks)),
			goerr.V("index", index.Count()))
	}
	for i, c := range cf.Chunks {
		if c.Position != i {
			return nil, goerr.Wrap(models.ErrCorruptSubject, "chunk out of position",
				goerr.V("subject", name), goerr.V("expected", i), goerr.V("got", c.Position))
		}
	}

	subject.Version = version
	subject.Chunks = cf.Chunks
	return subject, nil
}

// Append adds chunks and their embeddings after the subject's existing chunks and
// commits the new pair atomically. It returns the subject's new chunk count.
func (s *Store) Append(ctx context.Context, name string, chunks []models.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, goerr.New("chunks and vectors length mismatch",
			goerr.V("chunks", len(chunks)), goerr.V("vectors", len(vectors)))
	}

	unlock := s.lock(name)
	defer unlock()

	subject, err := s.Load(ctx, name)
	if err != nil {
		return 0, err
	}

	base := len(subject.Chunks)
	docs := make([]chromemdb.Document, len(chunks))
	merged := make([]models.Chunk, 0, base+len(chunks))
	merged = append(merged, subject.Chunks...)
	for i, c := range chunks {
		c.Position = base + i
		merged = append(merged, c)
		docs[i] = chromemdb.Document{
			Position:  c.Position,
			Source:    c.Source,
			Batch:     c.Batch,
			Embedding: vectors[i],
		}
	}
	if err := subject.Index.CreateDocs(ctx, docs); err != nil {
		return 0, err
	}

	if err := s.commit(name, merged, subject.Index, subject.Version); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// commit writes a new version and switches CURRENT to it. The previous version is
// kept until the next commit so a Load that read the old pointer can finish.
func (s *Store) commit(name string, chunks []models.Chunk, index *chromemdb.VectorDBManager, previous string) error {
	dir, err := s.SubjectDir(name)
	if err != nil {
		return err
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return goerr.Wrap(err, "failed to create version id")
	}
	version := "v-" + id
	versionDir := filepath.Join(dir, versionsDir, version)
	if err := helper.CreateFolder(versionDir); err != nil {
		return err
	}

	m := manifest{
		Version:   version,
		Count:     len(chunks),
		IndexFile: chromemdb.IndexFileName(s.compress, s.encryptionKey != ""),
		CreatedAt: time.Now().UTC(),
	}
	if err := writeJSON(filepath.Join(versionDir, chunksFile), chunkFile{Chunks: chunks}); err != nil {
		return err
	}
	if err := index.Export(filepath.Join(versionDir, m.IndexFile)); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(versionDir, manifestFile), m); err != nil {
		return err
	}

	// the rename of CURRENT is the commit point
	if err := helper.WriteFileAtomic(filepath.Join(dir, currentFile), []byte(version+"\n")); err != nil {
		return err
	}
	log.Info().Str("subject", name).Str("version", version).Int("chunks", len(chunks)).Msg("Committed subject")

	s.prune(dir, version, previous)
	return nil
}

// prune removes every version except the ones in keep. Failures only leave stale
// directories.
func (s *Store) prune(dir string, keep ...string) {
	entries, err := os.ReadDir(filepath.Join(dir, versionsDir))
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to list versions")
		return
	}
	for _, e := range entries {
		if slices.Contains(keep, e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, versionsDir, e.Name())); err != nil {
			log.Warn().Err(err).Str("version", e.Name()).Msg("Failed to remove old version")
		}
	}
}

func (s *Store) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to encode", goerr.V("path", path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write", goerr.V("path", path))
	}
	return nil
}
