package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/luhtaf/blobseen/internal/blobid"
	"github.com/luhtaf/blobseen/internal/config"
	"github.com/luhtaf/blobseen/internal/dedupe"
	"github.com/luhtaf/blobseen/internal/input"
	"github.com/luhtaf/blobseen/internal/meta"
)

// fakeArchiver fails the first failFirst uploads of every blob.
type fakeArchiver struct {
	mu        sync.Mutex
	failFirst int
	attempts  map[blobid.ID]int
	stored    map[blobid.ID]string
}

func newFakeArchiver(failFirst int) *fakeArchiver {
	return &fakeArchiver{failFirst: failFirst, attempts: map[blobid.ID]int{}, stored: map[blobid.ID]string{}}
}

func (f *fakeArchiver) Upload(_ context.Context, bm meta.BlobMeta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[bm.ID]++
	if f.attempts[bm.ID] <= f.failFirst {
		return "", errors.New("transient")
	}
	key := "blobs/" + bm.ID.String()
	f.stored[bm.ID] = key
	return key, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestRunDedupes(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("dir%d/copy%d.txt", i%5, i)] = fmt.Sprintf("content %d", i%10)
	}
	root := writeTree(t, files)

	seen := dedupe.NewInMemory()
	arch := newFakeArchiver(0)
	s := New(config.ScanCfg{Workers: 8, MaxRetries: 1}, seen, nil, arch)

	st, err := s.Run(context.Background(), input.NewWalker([]string{root}, nil, 0))
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 50, Unique: 10, Duplicates: 40, Bytes: st.Bytes}, st)
	assert.Positive(t, st.Bytes)
	assert.Equal(t, 10, seen.Len())
	assert.Len(t, arch.stored, 10)
	for id := range arch.stored {
		assert.Equal(t, 1, arch.attempts[id], "each blob is archived once")
	}
	assert.NotEmpty(t, s.RunID())
}

func TestRunRetriesAndCatalogs(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha", "b.json": "{}"})
	cat, err := dedupe.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()

	arch := newFakeArchiver(2)
	s := New(config.ScanCfg{Workers: 2, MaxRetries: 3, BackoffMS: 1}, dedupe.NewInMemory(), cat, arch)
	st, err := s.Run(context.Background(), input.NewWalker([]string{root}, nil, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Unique)

	ctx := context.Background()
	rec, ok, err := cat.Get(ctx, blobid.New([]byte("{}")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "application/json", rec.MIME)
	assert.Equal(t, "blobs/"+blobid.New([]byte("{}")).String(), rec.ObjectKey)
	assert.Equal(t, 3, arch.attempts[rec.ID])
}

func TestRunSkipsCatalogued(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	ctx := context.Background()
	cat, err := dedupe.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.Mark(ctx, dedupe.Record{ID: blobid.New([]byte("alpha"))}))

	seen := dedupe.NewInMemory()
	_, err = cat.Load(ctx, seen)
	require.NoError(t, err)

	arch := newFakeArchiver(0)
	st, err := New(config.ScanCfg{Workers: 2}, seen, cat, arch).Run(ctx, input.NewWalker([]string{root}, nil, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Unique)
	assert.Equal(t, int64(1), st.Duplicates)
	assert.Contains(t, arch.stored, blobid.New([]byte("beta")))
}

func TestRunCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "m.jsonl")
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte(fmt.Sprintf("{\"path\": %q}\n{\"path\": %q}\n", good, filepath.Join(dir, "gone"))), 0o644))

	arch := newFakeArchiver(5)
	s := New(config.ScanCfg{Workers: 1, MaxRetries: 2, BackoffMS: 1}, dedupe.NewInMemory(), nil, arch)
	st, err := s.Run(context.Background(), input.NewManifest(manifest))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, int64(2), st.Errors)
	assert.Equal(t, int64(1), st.Unique)
}

func TestRunSourceError(t *testing.T) {
	s := New(config.ScanCfg{}, dedupe.NewInMemory(), nil, nil)
	_, err := s.Run(context.Background(), input.NewManifest(filepath.Join(t.TempDir(), "nope")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func openCatalog(t *testing.T, path string) *dedupe.SQLite {
	t.Helper()
	cat, err := dedupe.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestFailedArchiveIsRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	cat := openCatalog(t, filepath.Join(t.TempDir(), "catalog.db"))
	id := blobid.New([]byte("alpha"))
	cfg := config.ScanCfg{Workers: 1, MaxRetries: 2, BackoffMS: 1}

	seen := dedupe.NewInMemory()
	_, err := cat.Load(ctx, seen)
	require.NoError(t, err)
	_, err = New(cfg, seen, cat, newFakeArchiver(100)).Run(ctx, input.NewWalker([]string{root}, nil, 0))
	require.Error(t, err)

	_, ok, err := cat.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "a blob that was never archived must not be catalogued")

	seen = dedupe.NewInMemory()
	n, err := cat.Load(ctx, seen)
	require.NoError(t, err)
	assert.Zero(t, n)

	arch := newFakeArchiver(0)
	st, err := New(cfg, seen, cat, arch).Run(ctx, input.NewWalker([]string{root}, nil, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Unique)
	assert.Zero(t, st.Duplicates)
	assert.Equal(t, 1, arch.attempts[id])

	rec, ok, err := cat.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "blobs/"+id.String(), rec.ObjectKey)
}

func TestDuplicateRefreshesCatalog(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{"a.txt": "alpha", "copy/a.txt": "alpha"})
	cat := openCatalog(t, filepath.Join(t.TempDir(), "catalog.db"))
	id := blobid.New([]byte("alpha"))

	old := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)
	require.NoError(t, cat.Mark(ctx, dedupe.Record{ID: id, Path: "/old", ObjectKey: "k", FirstSeen: old, LastSeen: old}))

	seen := dedupe.NewInMemory()
	_, err := cat.Load(ctx, seen)
	require.NoError(t, err)

	st, err := New(config.ScanCfg{Workers: 2}, seen, cat, newFakeArchiver(0)).Run(ctx, input.NewWalker([]string{root}, nil, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Duplicates)

	rec, ok, err := cat.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.Count)
	assert.True(t, rec.LastSeen.After(old), "last_seen %v not after %v", rec.LastSeen, old)
	assert.True(t, rec.FirstSeen.Equal(old))
	assert.Equal(t, "/old", rec.Path)

	// Seen within the last day, so retention keeps it.
	removed, err := cat.GC(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
