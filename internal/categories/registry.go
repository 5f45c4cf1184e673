// Package categories maps food category names to small integer ids.
package categories

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// NotFound is returned by Lookup for names without an id.
const NotFound = -1

// ErrCategoryExists is returned by AssignNew when the name is already bound.
var ErrCategoryExists = errors.NewStd("category already exists")

// ErrInvalidName is returned for empty category names.
var ErrInvalidName = errors.NewStd("category name must not be empty")

// Category binds a category name to its id.
type Category struct {
	ID        int       `gorm:"column:category_id;primaryKey;autoIncrement:false" json:"category_id"`
	Name      string    `gorm:"column:category;size:200;not null;uniqueIndex:idx_category_name" json:"category"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Category) TableName() string {
	return "categories"
}

// Registry is the persisted name to id mapping. Writers are serialized by
// the lock passed to NewRegistry; the record store passes its own lock so
// category assignment and record writes share one critical section.
type Registry struct {
	db   *gorm.DB
	lock sync.Locker
}

// NewRegistry migrates the categories table and returns a registry. A nil
// lock gets a private mutex.
func NewRegistry(db *gorm.DB, lock sync.Locker) (*Registry, error) {
	if db == nil {
		return nil, errors.NewStd("categories: database is required")
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}

	if err := db.AutoMigrate(&Category{}); err != nil {
		return nil, errors.New(fmt.Errorf("categories: migrate: %w", err)).
			Category(errors.CategoryDatabase).
			Build()
	}

	return &Registry{db: db, lock: lock}, nil
}

// Lookup returns the id bound to name, or NotFound. Unknown names are not
// an error.
func (r *Registry) Lookup(ctx context.Context, name string) (int, error) {
	return lookup(r.db.WithContext(ctx), name)
}

// AssignNew binds name to max(id)+1 and persists the binding.
func (r *Registry) AssignNew(ctx context.Context, name string) (int, error) {
	name = normalizeName(name)
	if name == "" {
		return NotFound, errors.New(ErrInvalidName).Category(errors.CategoryValidation).Build()
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	var id int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lookup(tx, name)
		if err != nil {
			return err
		}
		if existing != NotFound {
			return errors.New(ErrCategoryExists).
				Category(errors.CategoryConflict).
				Context("category", name).
				Build()
		}

		id, err = insertNext(tx, name)
		return err
	})
	if err != nil {
		return NotFound, err
	}

	return id, nil
}

// ResolveOrCreate returns the id for name, assigning max(id)+1 when it is
// new. It runs on tx and takes no lock; the caller must hold the registry
// lock for the whole transaction.
func ResolveOrCreate(tx *gorm.DB, name string) (id int, created bool, err error) {
	name = normalizeName(name)
	if name == "" {
		return NotFound, false, errors.New(ErrInvalidName).Category(errors.CategoryValidation).Build()
	}

	id, err = lookup(tx, name)
	if err != nil {
		return NotFound, false, err
	}
	if id != NotFound {
		return id, false, nil
	}

	id, err = insertNext(tx, name)
	if err != nil {
		return NotFound, false, err
	}
	return id, true, nil
}

// EnsureWithID binds name to a specific id, used when importing an existing
// dataset. It succeeds when the exact binding already exists and fails when
// either the name or the id is bound differently.
func EnsureWithID(tx *gorm.DB, name string, id int) error {
	name = normalizeName(name)
	if name == "" {
		return errors.New(ErrInvalidName).Category(errors.CategoryValidation).Build()
	}
	if id < 1 {
		return errors.Newf("category id must be positive, got %d", id).
			Category(errors.CategoryValidation).
			Build()
	}

	var existing []Category
	if err := tx.Where("category = ? OR category_id = ?", name, id).Find(&existing).Error; err != nil {
		return dbError("ensure", err)
	}

	for _, c := range existing {
		if c.ID != id || c.Name != name {
			return errors.Newf("category %q/%d conflicts with existing %q/%d", name, id, c.Name, c.ID).
				Category(errors.CategoryConflict).
				Build()
		}
	}
	if len(existing) > 0 {
		return nil
	}

	if err := tx.Create(&Category{ID: id, Name: name}).Error; err != nil {
		return dbError("ensure", err)
	}
	return nil
}

// All returns every category ordered by id.
func (r *Registry) All(ctx context.Context) ([]Category, error) {
	var cats []Category
	if err := r.db.WithContext(ctx).Order("category_id ASC").Find(&cats).Error; err != nil {
		return nil, dbError("list", err)
	}
	return cats, nil
}

// Labels returns category names ordered by id, the label order of a model
// trained on this registry.
func (r *Registry) Labels(ctx context.Context) ([]string, error) {
	cats, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(cats))
	for i := range cats {
		labels[i] = cats[i].Name
	}
	return labels, nil
}

func lookup(db *gorm.DB, name string) (int, error) {
	var cats []Category
	if err := db.Where("category = ?", normalizeName(name)).Limit(1).Find(&cats).Error; err != nil {
		return NotFound, dbError("lookup", err)
	}
	if len(cats) == 0 {
		return NotFound, nil
	}
	return cats[0].ID, nil
}

func insertNext(tx *gorm.DB, name string) (int, error) {
	var maxID int
	if err := tx.Model(&Category{}).
		Select("COALESCE(MAX(category_id), 0)").
		Scan(&maxID).Error; err != nil {
		return NotFound, dbError("next id", err)
	}

	cat := Category{ID: maxID + 1, Name: name}
	if err := tx.Create(&cat).Error; err != nil {
		return NotFound, dbError("create", err)
	}

	GetLogger().Info("assigned new category id",
		logger.String("category", name),
		logger.Int("category_id", cat.ID))

	return cat.ID, nil
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

func dbError(op string, err error) error {
	return errors.New(fmt.Errorf("categories: %s: %w", op, err)).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
