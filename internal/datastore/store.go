// Package datastore is the tabular record store for received images and
// their ground-truth labels.
package datastore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/foodnet-go/internal/categories"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// Store owns the data_info table. Every access runs under one mutex and one
// transaction, which also covers category resolution, so img_id and
// category_id assignment are race free.
type Store struct {
	db       *gorm.DB
	mu       sync.Mutex
	registry *categories.Registry
}

// New migrates the schema and returns a store. The returned store's
// Registry shares the store lock.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.NewStd("datastore: database is required")
	}

	s := &Store{db: db}

	registry, err := categories.NewRegistry(db, &s.mu)
	if err != nil {
		return nil, err
	}
	s.registry = registry

	if err := db.AutoMigrate(&ImageRecord{}); err != nil {
		return nil, dbError("migrate", err)
	}

	return s, nil
}

// Registry returns the category registry bound to this store.
func (s *Store) Registry() *categories.Registry {
	return s.registry
}

// UpsertNew stores a new record and returns its img_id, max(img_id)+1 or 1
// for an empty table. The category is resolved or created in the same
// transaction.
func (s *Store) UpsertNew(ctx context.Context, imgPath, label string, bbox []float64) (int, error) {
	if err := ValidateBoundingBox(bbox); err != nil {
		GetLogger().Warn("rejected record with invalid bounding box",
			logger.String("img_path", imgPath),
			logger.Int("bbox_len", len(bbox)))
		return 0, err
	}
	if err := validateLabel(label); err != nil {
		return 0, err
	}
	label = strings.TrimSpace(label)
	if imgPath == "" {
		return 0, errors.New(ErrInvalidImagePath).Category(errors.CategoryValidation).Build()
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var record ImageRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		categoryID, _, err := categories.ResolveOrCreate(tx, label)
		if err != nil {
			return err
		}

		nextID, err := maxImgID(tx)
		if err != nil {
			return err
		}

		record = ImageRecord{
			ImgID:      nextID + 1,
			ImgPath:    normalizePath(imgPath),
			Category:   label,
			CategoryID: categoryID,
			X1:         bbox[0],
			Y1:         bbox[1],
			X2:         bbox[2],
			Y2:         bbox[3],
		}
		if err := tx.Create(&record).Error; err != nil {
			return dbError("insert", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	GetLogger().WithContext(ctx).Info("stored new image record",
		logger.Int("img_id", record.ImgID),
		logger.String("img_path", record.ImgPath),
		logger.String("category", record.Category),
		logger.Int("category_id", record.CategoryID),
		logger.Duration("elapsed", time.Since(start)))

	return record.ImgID, nil
}

// Correct overwrites category, category_id and bounding box of an existing
// record. Applying the same correction twice leaves the same state. On any
// failure nothing is written.
func (s *Store) Correct(ctx context.Context, imgID int, label string, bbox []float64) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	if err := ValidateBoundingBox(bbox); err != nil {
		return err
	}
	label = strings.TrimSpace(label)

	s.mu.Lock()
	defer s.mu.Unlock()

	var categoryID int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ImageRecord{}).Where("img_id = ?", imgID).Count(&count).Error; err != nil {
			return dbError("lookup", err)
		}
		if count == 0 {
			return errors.New(ErrRecordNotFound).
				Category(errors.CategoryNotFound).
				Context("img_id", imgID).
				Build()
		}

		var err error
		categoryID, _, err = categories.ResolveOrCreate(tx, label)
		if err != nil {
			return err
		}

		updates := map[string]any{
			"category":    label,
			"category_id": categoryID,
			"x1":          bbox[0],
			"y1":          bbox[1],
			"x2":          bbox[2],
			"y2":          bbox[3],
		}
		if err := tx.Model(&ImageRecord{}).Where("img_id = ?", imgID).Updates(updates).Error; err != nil {
			return dbError("update", err)
		}
		return nil
	})
	if err != nil {
		GetLogger().WithContext(ctx).Warn("correction not applied",
			logger.Int("img_id", imgID),
			logger.String("label", label),
			logger.Error(err))
		return err
	}

	GetLogger().WithContext(ctx).Info("updated verified label",
		logger.Int("img_id", imgID),
		logger.String("category", label),
		logger.Int("category_id", categoryID))

	return nil
}

// Get returns the record with imgID.
func (s *Store) Get(ctx context.Context, imgID int) (*ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []ImageRecord
	if err := s.db.WithContext(ctx).Where("img_id = ?", imgID).Limit(1).Find(&records).Error; err != nil {
		return nil, dbError("get", err)
	}
	if len(records) == 0 {
		return nil, errors.New(ErrRecordNotFound).
			Category(errors.CategoryNotFound).
			Context("img_id", imgID).
			Build()
	}
	return &records[0], nil
}

// List returns records ordered by img_id. A limit of zero or less returns
// every record from offset on.
func (s *Store) List(ctx context.Context, offset, limit int) ([]ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return listRecords(s.db.WithContext(ctx), offset, limit)
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.WithContext(ctx).Model(&ImageRecord{}).Count(&count).Error; err != nil {
		return 0, dbError("count", err)
	}
	return count, nil
}

// MaxID returns the highest img_id, or 0 for an empty table.
func (s *Store) MaxID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maxImgID(s.db.WithContext(ctx))
}

// Categories returns every registered category ordered by id.
func (s *Store) Categories(ctx context.Context) ([]categories.Category, error) {
	return s.registry.All(ctx)
}

// CategoryID returns the id bound to label, or categories.NotFound.
func (s *Store) CategoryID(ctx context.Context, label string) (int, error) {
	return s.registry.Lookup(ctx, label)
}

// Labels returns category names ordered by id.
func (s *Store) Labels(ctx context.Context) ([]string, error) {
	return s.registry.Labels(ctx)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError("ping", err)
	}
	return nil
}

func listRecords(db *gorm.DB, offset, limit int) ([]ImageRecord, error) {
	q := db.Order("img_id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []ImageRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, dbError("list", err)
	}
	return records, nil
}

func maxImgID(db *gorm.DB) (int, error) {
	var maxID int
	if err := db.Model(&ImageRecord{}).Select("COALESCE(MAX(img_id), 0)").Scan(&maxID).Error; err != nil {
		return 0, dbError("max id", err)
	}
	return maxID, nil
}

func dbError(op string, err error) error {
	return errors.New(fmt.Errorf("datastore: %s: %w", op, err)).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
