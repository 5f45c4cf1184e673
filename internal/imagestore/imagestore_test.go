package imagestore

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/foodnet-go/internal/errors"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestSaveUsesContentHash(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "verified_images")
	store, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	data := pngBytes(t)
	p1, err := store.Save(data)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(p1, ".png"))
	assert.NotContains(t, p1, `\`)
	assert.Equal(t, filepath.ToSlash(dir)+"/"+Name(data), p1)

	p2, err := store.Save(data)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	rc, err := store.Open(p1)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)
}

func TestSaveConcurrentSameContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	data := pngBytes(t)
	const workers = 16
	paths := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Go(func() {
			paths[i], errs[i] = store.Save(data)
		})
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, paths[0], paths[i])
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Name(data), entries[0].Name())
	assert.False(t, strings.HasSuffix(entries[0].Name(), ".tmp"))

	got, err := os.ReadFile(filepath.Join(dir, Name(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestNameDistinguishesContent(t *testing.T) {
	t.Parallel()

	a := Name([]byte("first"))
	b := Name([]byte("second"))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".bin"))
	assert.Len(t, strings.TrimSuffix(a, ".bin"), 64)
}

func TestOpenRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Open("../etc/passwd")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = store.Open("missing.jpg")
	assert.True(t, errors.IsNotFound(err))
}
