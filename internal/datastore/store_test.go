package datastore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/foodnet-go/internal/categories"
	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(&conf.StorageSettings{Type: "sqlite", SQLite: conf.SQLiteSettings{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	store, err := New(db)
	require.NoError(t, err)
	return store
}

func exportBytes(t *testing.T, s *Store) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(context.Background(), &buf))
	return buf.Bytes()
}

func TestUpsertNewAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	id1, err := store.UpsertNew(ctx, "images/a.jpg", "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)
	id2, err := store.UpsertNew(ctx, "images/b.jpg", "miso soup", []float64{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)
	id3, err := store.UpsertNew(ctx, "images/c.jpg", "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, []int{id1, id2, id3})

	rec, err := store.Get(ctx, id3)
	require.NoError(t, err)
	assert.Equal(t, "rice", rec.Category)
	assert.Equal(t, 1, rec.CategoryID)

	rec, err = store.Get(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.CategoryID)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, rec.BoundingBox())
}

func TestUpsertNewConcurrentIDsAreUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	const n = 50
	ids := make([]int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			label := fmt.Sprintf("dish-%d", i%5)
			ids[i], errs[i] = store.UpsertNew(ctx, fmt.Sprintf("images/%d.jpg", i), label, []float64{0, 0, float64(i), float64(i)})
		})
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	slices.Sort(ids)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, ids)

	// five distinct labels, each bound to exactly one id
	cats, err := store.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 5)
	for i, c := range cats {
		assert.Equal(t, i+1, c.ID)
	}
}

func TestUpsertNewRejectsMalformedBoundingBox(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	for _, bbox := range [][]float64{nil, {1, 2, 3}, {1, 2, 3, 4, 5}} {
		_, err := store.UpsertNew(ctx, "images/a.jpg", "rice", bbox)
		require.ErrorIs(t, err, ErrInvalidBoundingBox)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// no category was registered either
	id, err := store.CategoryID(ctx, "rice")
	require.NoError(t, err)
	assert.Equal(t, categories.NotFound, id)
}

func TestUpsertNewNormalizesPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	id, err := store.UpsertNew(ctx, `UECFOOD100\verified_images\.\abc.jpg`, "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "UECFOOD100/verified_images/abc.jpg", rec.ImgPath)
}

func TestCorrectUpdatesLabelAndBox(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	id, err := store.UpsertNew(ctx, "images/a.jpg", "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)

	require.NoError(t, store.Correct(ctx, id, "fried rice", []float64{0.1, 0.1, 0.9, 0.9}))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fried rice", rec.Category)
	assert.Equal(t, 2, rec.CategoryID)
	assert.Equal(t, "images/a.jpg", rec.ImgPath)
	assert.Equal(t, []float64{0.1, 0.1, 0.9, 0.9}, rec.BoundingBox())
}

func TestCorrectIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	id, err := store.UpsertNew(ctx, "images/a.jpg", "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)

	require.NoError(t, store.Correct(ctx, id, "sushi", []float64{1, 2, 3, 4}))
	once := exportBytes(t, store)
	catsOnce, err := store.Categories(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Correct(ctx, id, "sushi", []float64{1, 2, 3, 4}))
	twice := exportBytes(t, store)
	catsTwice, err := store.Categories(ctx)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Len(t, catsTwice, len(catsOnce))
}

func TestCorrectUnknownIDLeavesTableUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	_, err := store.UpsertNew(ctx, "images/a.jpg", "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)
	before := exportBytes(t, store)

	err = store.Correct(ctx, 42, "brand new label", []float64{0, 0, 1, 1})
	require.ErrorIs(t, err, ErrRecordNotFound)
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, before, exportBytes(t, store))

	// the category created inside the failed transaction was rolled back
	id, err := store.CategoryID(ctx, "brand new label")
	require.NoError(t, err)
	assert.Equal(t, categories.NotFound, id)
}

func TestCorrectRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	id, err := store.UpsertNew(ctx, "images/a.jpg", "rice", []float64{0, 0, 1, 1})
	require.NoError(t, err)
	before := exportBytes(t, store)

	require.ErrorIs(t, store.Correct(ctx, id, "", []float64{0, 0, 1, 1}), ErrInvalidLabel)
	require.ErrorIs(t, store.Correct(ctx, id, "sushi", []float64{0, 0}), ErrInvalidBoundingBox)

	assert.Equal(t, before, exportBytes(t, store))
}

func TestGetUnknownRecord(t *testing.T) {
	t.Parallel()

	_, err := setupStore(t).Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestListAndMaxID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	maxID, err := store.MaxID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxID)

	for i := range 5 {
		_, err := store.UpsertNew(ctx, fmt.Sprintf("images/%d.jpg", i), "rice", []float64{0, 0, 1, 1})
		require.NoError(t, err)
	}

	page, err := store.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].ImgID)
	assert.Equal(t, 3, page[1].ImgID)

	maxID, err = store.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, maxID)

	require.NoError(t, store.Ping(ctx))
}

func TestRegistrySharesStoreLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			if i%2 == 0 {
				_, _ = store.Registry().AssignNew(ctx, fmt.Sprintf("new-%d", i))
				return
			}
			_, _ = store.UpsertNew(ctx, "images/x.jpg", fmt.Sprintf("seen-%d", i), []float64{0, 0, 1, 1})
		})
	}
	wg.Wait()

	cats, err := store.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 10)
	for i, c := range cats {
		assert.Equal(t, i+1, c.ID)
	}
}
