package datastore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/tphakala/foodnet-go/internal/categories"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// CSVHeader is the column order of data_info.csv.
var CSVHeader = []string{"img_id", "img_path", "category", "category_id", "x1", "y1", "x2", "y2"}

// ExportCSV writes every record as data_info.csv ordered by img_id.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	s.mu.Lock()
	records, err := listRecords(s.db.WithContext(ctx), 0, 0)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return csvError("write header", err)
	}

	row := make([]string, len(CSVHeader))
	for i := range records {
		r := &records[i]
		row[0] = strconv.Itoa(r.ImgID)
		row[1] = r.ImgPath
		row[2] = r.Category
		row[3] = strconv.Itoa(r.CategoryID)
		row[4] = formatFloat(r.X1)
		row[5] = formatFloat(r.Y1)
		row[6] = formatFloat(r.X2)
		row[7] = formatFloat(r.Y2)
		if err := cw.Write(row); err != nil {
			return csvError("write row", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return csvError("flush", err)
	}
	return nil
}

// ExportCSVFile writes the dataset to path via a temporary file and rename,
// so readers never observe a partial file.
func (s *Store) ExportCSVFile(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".data_info-*.csv")
	if err != nil {
		return errors.New(fmt.Errorf("datastore: create temp csv: %w", err)).
			Category(errors.CategoryFileIO).
			Build()
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := s.ExportCSV(ctx, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return csvError("close", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(fmt.Errorf("datastore: rename csv: %w", err)).
			Category(errors.CategoryFileIO).
			Build()
	}

	GetLogger().Info("exported dataset", logger.String("path", path))
	return nil
}

// ImportCSV loads records in data_info.csv format, keeping their img_id and
// category_id values. The import is all or nothing: a malformed row, a
// duplicate img_id or a conflicting category binding aborts it.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, csvError("read header", err)
	}
	columns, err := headerIndex(header)
	if err != nil {
		return 0, err
	}

	var records []ImageRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, csvError("read row", err)
		}

		rec, err := parseRow(row, columns)
		if err != nil {
			return 0, errors.New(fmt.Errorf("line %d: %w", line, err)).
				Category(errors.CategoryValidation).
				Context("line", line).
				Build()
		}
		records = append(records, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			rec := &records[i]
			if err := categories.EnsureWithID(tx, rec.Category, rec.CategoryID); err != nil {
				return fmt.Errorf("img_id %d: %w", rec.ImgID, err)
			}

			var count int64
			if err := tx.Model(&ImageRecord{}).Where("img_id = ?", rec.ImgID).Count(&count).Error; err != nil {
				return dbError("import lookup", err)
			}
			if count > 0 {
				return errors.Newf("img_id %d already exists", rec.ImgID).
					Category(errors.CategoryConflict).
					Build()
			}

			if err := tx.Create(rec).Error; err != nil {
				return dbError("import insert", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	GetLogger().Info("imported dataset", logger.Int("records", len(records)))
	return len(records), nil
}

func headerIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range CSVHeader {
		if _, ok := columns[name]; !ok {
			return nil, errors.Newf("csv header is missing column %q", name).
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return columns, nil
}

func parseRow(row []string, columns map[string]int) (ImageRecord, error) {
	field := func(name string) string { return strings.TrimSpace(row[columns[name]]) }

	var rec ImageRecord
	var err error

	if rec.ImgID, err = parseInt(field("img_id")); err != nil || rec.ImgID < 1 {
		return rec, fmt.Errorf("invalid img_id %q", field("img_id"))
	}
	if rec.CategoryID, err = parseInt(field("category_id")); err != nil {
		return rec, fmt.Errorf("invalid category_id %q", field("category_id"))
	}

	rec.ImgPath = field("img_path")
	if rec.ImgPath == "" {
		return rec, ErrInvalidImagePath
	}
	rec.ImgPath = normalizePath(rec.ImgPath)

	rec.Category = field("category")
	if err := validateLabel(rec.Category); err != nil {
		return rec, err
	}

	bbox := make([]float64, 4)
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		if bbox[i], err = strconv.ParseFloat(field(name), 64); err != nil {
			return rec, fmt.Errorf("invalid %s %q", name, field(name))
		}
	}
	if err := ValidateBoundingBox(bbox); err != nil {
		return rec, err
	}
	rec.X1, rec.Y1, rec.X2, rec.Y2 = bbox[0], bbox[1], bbox[2], bbox[3]

	return rec, nil
}

// parseInt accepts integral floats such as "3.0", which spreadsheet tools
// write for integer columns.
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func csvError(op string, err error) error {
	return errors.New(fmt.Errorf("datastore: csv %s: %w", op, err)).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Build()
}
