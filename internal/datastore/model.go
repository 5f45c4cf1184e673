package datastore

import (
	"math"
	"path"
	"strings"

	"github.com/tphakala/foodnet-go/internal/errors"
)

// ImageRecord is one row of the data_info table.
type ImageRecord struct {
	ImgID      int     `gorm:"column:img_id;primaryKey;autoIncrement:false" json:"img_id"`
	ImgPath    string  `gorm:"column:img_path;size:512;not null" json:"img_path"`
	Category   string  `gorm:"column:category;size:200;not null;index" json:"category"`
	CategoryID int     `gorm:"column:category_id;not null;index" json:"category_id"`
	X1         float64 `gorm:"column:x1" json:"x1"`
	Y1         float64 `gorm:"column:y1" json:"y1"`
	X2         float64 `gorm:"column:x2" json:"x2"`
	Y2         float64 `gorm:"column:y2" json:"y2"`
}

// TableName returns the table name for GORM.
func (ImageRecord) TableName() string {
	return "data_info"
}

// BoundingBox returns the box as [x1, y1, x2, y2].
func (r *ImageRecord) BoundingBox() []float64 {
	return []float64{r.X1, r.Y1, r.X2, r.Y2}
}

// Sentinel errors
var (
	ErrRecordNotFound     = errors.NewStd("image record not found")
	ErrInvalidBoundingBox = errors.NewStd("bounding box must be exactly four finite numbers")
	ErrInvalidLabel       = errors.NewStd("label must be a non-empty string")
	ErrInvalidImagePath   = errors.NewStd("image path must not be empty")
)

// ValidateBoundingBox checks that bbox holds exactly four finite values.
func ValidateBoundingBox(bbox []float64) error {
	if len(bbox) != 4 {
		return errors.New(ErrInvalidBoundingBox).
			Category(errors.CategoryValidation).
			Context("length", len(bbox)).
			Build()
	}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New(ErrInvalidBoundingBox).
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

func validateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return errors.New(ErrInvalidLabel).Category(errors.CategoryValidation).Build()
	}
	return nil
}

// normalizePath cleans p and converts it to forward slashes.
func normalizePath(p string) string {
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}
