package categories

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tphakala/foodnet-go/internal/errors"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(setupTestDB(t), nil)
	require.NoError(t, err)
	return reg
}

func TestLookupUnknownIsNotAnError(t *testing.T) {
	t.Parallel()

	reg := setupRegistry(t)
	id, err := reg.Lookup(context.Background(), "sushi")
	require.NoError(t, err)
	assert.Equal(t, NotFound, id)
}

func TestAssignNewIsDenseFromOne(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := setupRegistry(t)

	for i, name := range []string{"rice", "miso soup", "tempura"} {
		id, err := reg.AssignNew(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, i+1, id)
	}

	id, err := reg.Lookup(ctx, "miso soup")
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	labels, err := reg.Labels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rice", "miso soup", "tempura"}, labels)
}

func TestAssignNewRejectsDuplicateAndEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := setupRegistry(t)

	_, err := reg.AssignNew(ctx, "rice")
	require.NoError(t, err)

	_, err = reg.AssignNew(ctx, "rice")
	require.ErrorIs(t, err, ErrCategoryExists)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = reg.AssignNew(ctx, "   ")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestResolveOrCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := setupRegistry(t)

	var first, second int
	var created1, created2 bool
	err := reg.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		first, created1, err = ResolveOrCreate(tx, "ramen")
		if err != nil {
			return err
		}
		second, created2, err = ResolveOrCreate(tx, "ramen")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, first, second)
	assert.True(t, created1)
	assert.False(t, created2)
}

func TestResolveOrCreateRollsBackWithTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := setupRegistry(t)

	err := reg.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, _, err := ResolveOrCreate(tx, "udon"); err != nil {
			return err
		}
		return errors.NewStd("abort")
	})
	require.Error(t, err)

	id, err := reg.Lookup(ctx, "udon")
	require.NoError(t, err)
	assert.Equal(t, NotFound, id)
}

func TestConcurrentAssignmentSharesLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := setupRegistry(t)

	const n = 20
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			reg.lock.Lock()
			defer reg.lock.Unlock()
			_ = reg.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				id, _, err := ResolveOrCreate(tx, "curry rice")
				ids[i] = id
				return err
			})
		})
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, 1, id)
	}

	all, err := reg.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnsureWithID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := setupRegistry(t)
	db := reg.db.WithContext(ctx)

	require.NoError(t, EnsureWithID(db, "rice", 5))
	require.NoError(t, EnsureWithID(db, "rice", 5))

	err := EnsureWithID(db, "rice", 6)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	err = EnsureWithID(db, "noodles", 5)
	require.Error(t, err)

	// next assignment continues after the imported id
	id, err := reg.AssignNew(ctx, "noodles")
	require.NoError(t, err)
	assert.Equal(t, 6, id)
}
