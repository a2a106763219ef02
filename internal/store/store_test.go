package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"studyscope/internal/models"
	"studyscope/internal/store"
)

func makeChunks(prefix string, n int) ([]models.Chunk, [][]float32) {
	chunks := make([]models.Chunk, n)
	vectors := make([][]float32, n)
	for i := range chunks {
		chunks[i] = models.Chunk{Content: fmt.Sprintf("%s chunk %d", prefix, i), Source: prefix + ".pdf"}
		v := make([]float32, 4)
		v[i%4] = 1
		vectors[i] = v
	}
	return chunks, vectors
}

func readCurrent(t *testing.T, dir string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
	gt.NoError(t, err).Required()
	return strings.TrimSpace(string(raw))
}

func TestAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	st := store.New(t.TempDir())

	chunks, vectors := makeChunks("bio", 3)
	total, err := st.Append(ctx, "biology", chunks, vectors)
	gt.NoError(t, err).Required()
	gt.Value(t, total).Equal(3)

	more, moreVectors := makeChunks("chem", 2)
	total, err = st.Append(ctx, "biology", more, moreVectors)
	gt.NoError(t, err).Required()
	gt.Value(t, total).Equal(5)

	subject, err := st.Load(ctx, "biology")
	gt.NoError(t, err).Required()
	gt.Array(t, subject.Chunks).Length(5)
	gt.Value(t, subject.Index.Count()).Equal(5)
	gt.Bool(t, subject.Empty()).False()

	// earlier chunks keep their positions
	for i, c := range subject.Chunks {
		gt.Value(t, c.Position).Equal(i)
	}
	gt.Value(t, subject.Chunks[0].Content).Equal("bio chunk 0")
	gt.Value(t, subject.Chunks[3].Content).Equal("chem chunk 0")
	gt.Value(t, subject.Chunks[3].Source).Equal("chem.pdf")

	vec, err := subject.Index.Embedding(ctx, 3)
	gt.NoError(t, err).Required()
	gt.Value(t, vec).Equal(moreVectors[0])
}

func TestLoadMissingSubjectIsEmpty(t *testing.T) {
	st := store.New(t.TempDir())
	subject, err := st.Load(context.Background(), "history")
	gt.NoError(t, err).Required()
	gt.Bool(t, subject.Empty()).True()
	gt.Value(t, subject.Version).Equal("")
}

func TestPruneKeepsCurrentAndPreviousVersion(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st := store.New(root)
	dir := filepath.Join(root, "math")

	var versions []string
	for i := 0; i < 3; i++ {
		chunks, vectors := makeChunks("x", 1)
		_, err := st.Append(ctx, "math", chunks, vectors)
		gt.NoError(t, err).Required()
		versions = append(versions, readCurrent(t, dir))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "versions"))
	gt.NoError(t, err).Required()
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	gt.Array(t, names).Length(2)
	gt.Bool(t, slices.Contains(names, versions[2])).True()
	gt.Bool(t, slices.Contains(names, versions[1])).True()

	// a reader that picked up the previous pointer can still read its pair
	_, err = os.Stat(filepath.Join(dir, "versions", versions[1], "manifest.json"))
	gt.NoError(t, err)
}

func TestInterruptedCommitKeepsPreviousPair(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st := store.New(root)

	chunks, vectors := makeChunks("phys", 2)
	_, err := st.Append(ctx, "physics", chunks, vectors)
	gt.NoError(t, err).Required()
	dir := filepath.Join(root, "physics")
	before := readCurrent(t, dir)

	// a crash after writing the chunk store but before the pointer switch
	stray := filepath.Join(dir, "versions", "v-interrupted")
	gt.NoError(t, os.MkdirAll(stray, 0o755)).Required()
	gt.NoError(t, os.WriteFile(filepath.Join(stray, "chunks.json"), []byte(`{"chunks":[{"position":0}]}`), 0o644)).Required()

	subject, err := st.Load(ctx, "physics")
	gt.NoError(t, err).Required()
	gt.Value(t, subject.Version).Equal(before)
	gt.Array(t, subject.Chunks).Length(2)
	gt.Value(t, subject.Index.Count()).Equal(2)

	// the next commit succeeds and sweeps the stray version
	more, moreVectors := makeChunks("phys2", 1)
	total, err := st.Append(ctx, "physics", more, moreVectors)
	gt.NoError(t, err).Required()
	gt.Value(t, total).Equal(3)
	_, err = os.Stat(stray)
	gt.Bool(t, os.IsNotExist(err)).True()
}

func TestLoadDetectsMisalignedPair(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st := store.New(root)

	chunks, vectors := makeChunks("art", 3)
	_, err := st.Append(ctx, "art", chunks, vectors)
	gt.NoError(t, err).Required()

	dir := filepath.Join(root, "art")
	chunkPath := filepath.Join(dir, "versions", readCurrent(t, dir), "chunks.json")
	gt.NoError(t, os.WriteFile(chunkPath, []byte(`{"chunks":[{"position":0,"content":"only one"}]}`), 0o644)).Required()

	_, err = st.Load(ctx, "art")
	gt.Error(t, err).Is(models.ErrCorruptSubject)
}

func TestLoadUnreadableData(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "geo")
	gt.NoError(t, os.MkdirAll(dir, 0o755)).Required()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "CURRENT"), []byte("v-gone\n"), 0o644)).Required()

	_, err := store.New(root).Load(ctx, "geo")
	gt.Error(t, err)
}

func TestAppendLengthMismatch(t *testing.T) {
	chunks, vectors := makeChunks("a", 2)
	_, err := store.New(t.TempDir()).Append(context.Background(), "s", chunks, vectors[:1])
	gt.Error(t, err)
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	st := store.New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunks, vectors := makeChunks(fmt.Sprintf("w%d", i), 2)
			_, err := st.Append(ctx, "shared", chunks, vectors)
			gt.NoError(t, err)
		}(i)
	}
	wg.Wait()

	subject, err := st.Load(ctx, "shared")
	gt.NoError(t, err).Required()
	gt.Array(t, subject.Chunks).Length(8)
	gt.Value(t, subject.Index.Count()).Equal(8)
}

func TestValidateSubject(t *testing.T) {
	for _, name := range []string{"", " ", ".", "..", ".hidden", "a/b", `a\b`} {
		gt.Error(t, store.ValidateSubject(name)).Is(models.ErrInvalidSubject)
	}
	gt.NoError(t, store.ValidateSubject("Organic Chemistry"))
}

func TestListSubjects(t *testing.T) {
	root := t.TempDir()
	st := store.New(root)

	gt.NoError(t, st.CreateSubject("physics")).Required()
	gt.NoError(t, st.CreateSubject("biology")).Required()
	gt.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755)).Required()
	gt.NoError(t, os.WriteFile(filepath.Join(root, "README.txt"), nil, 0o644)).Required()

	subjects, err := st.ListSubjects()
	gt.NoError(t, err).Required()
	gt.Value(t, subjects).Equal([]string{"biology", "physics"})

	_, err = store.New(filepath.Join(root, "missing")).ListSubjects()
	gt.Error(t, err).Is(models.ErrNoSubjectsDir)

	gt.Error(t, st.CreateSubject("../escape")).Is(models.ErrInvalidSubject)
}

func TestSubjectContents(t *testing.T) {
	ctx := context.Background()
	st := store.New(t.TempDir())
	chunks, vectors := makeChunks("hist", 2)
	_, err := st.Append(ctx, "history", chunks, vectors)
	gt.NoError(t, err).Required()

	subject, err := st.Load(ctx, "history")
	gt.NoError(t, err).Required()
	gt.Value(t, subject.Contents()).Equal([]string{"hist chunk 0", "hist chunk 1"})
}

func TestCompressedEncryptedIndex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	key := strings.Repeat("k", 32)
	st := store.New(root, store.WithCompression(true), store.WithEncryptionKey(key))

	chunks, vectors := makeChunks("enc", 2)
	_, err := st.Append(ctx, "secret", chunks, vectors)
	gt.NoError(t, err).Required()

	subject, err := st.Load(ctx, "secret")
	gt.NoError(t, err).Required()
	gt.Value(t, subject.Index.Count()).Equal(2)

	more, moreVectors := makeChunks("enc2", 1)
	total, err := st.Append(ctx, "secret", more, moreVectors)
	gt.NoError(t, err).Required()
	gt.Value(t, total).Equal(3)

	dir := filepath.Join(root, "secret")
	_, err = os.Stat(filepath.Join(dir, "versions", readCurrent(t, dir), "index.gob.gz.enc"))
	gt.NoError(t, err).Required()

	subject, err = st.Load(ctx, "secret")
	gt.NoError(t, err).Required()
	gt.Array(t, subject.Chunks).Length(3)
	gt.Value(t, subject.Index.Count()).Equal(3)
	vec, err := subject.Index.Embedding(ctx, 2)
	gt.NoError(t, err).Required()
	gt.Value(t, vec).Equal(moreVectors[0])

	// the index cannot be read without the key
	_, err = store.New(root, store.WithCompression(true)).Load(ctx, "secret")
	gt.Error(t, err)
}
