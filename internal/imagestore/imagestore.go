// Package imagestore persists received image bytes under content-hash
// filenames inside a sandboxed directory.
package imagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// Store writes images below a base directory using os.Root, so names can
// never escape it.
type Store struct {
	dir  string // as configured, used for record paths
	root *os.Root
}

// New creates dir if needed and opens it as the storage root.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.NewStd("imagestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.New(fmt.Errorf("imagestore: create directory: %w", err)).
			Category(errors.CategoryFileIO).
			FileContext(dir, 0).
			Build()
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, errors.New(fmt.Errorf("imagestore: open root: %w", err)).
			Category(errors.CategoryFileIO).
			FileContext(dir, 0).
			Build()
	}

	return &Store{dir: dir, root: root}, nil
}

// Name returns the content-hash filename for data: the hex SHA-256 digest
// plus an extension guessed from the content.
func Name(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + extension(data)
}

func extension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

// Save writes data and returns its record path: the configured directory
// joined with the content-hash filename, forward-slash separated. Saving
// identical bytes twice returns the same path and writes once. Concurrent
// saves of the same bytes each write a private temp file and the first
// rename wins.
func (s *Store) Save(data []byte) (string, error) {
	name := Name(data)
	recordPath := path.Join(filepath.ToSlash(s.dir), name)

	if _, err := s.root.Stat(name); err == nil {
		GetLogger().Debug("image already stored", logger.String("path", recordPath))
		return recordPath, nil
	}

	tmp := fmt.Sprintf(".%s.%s.tmp", name, uuid.NewString())
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", s.fileError("create", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return "", s.fileError("write", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(tmp)
		return "", s.fileError("close", tmp, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		if _, statErr := s.root.Stat(name); statErr == nil {
			GetLogger().Debug("image stored concurrently", logger.String("path", recordPath))
			return recordPath, nil
		}
		return "", s.fileError("rename", name, err)
	}

	GetLogger().Debug("stored image",
		logger.String("path", recordPath),
		logger.Int("bytes", len(data)))

	return recordPath, nil
}

// Open opens a stored image by its record path or bare filename.
func (s *Store) Open(recordPath string) (io.ReadCloser, error) {
	name := strings.TrimPrefix(recordPath, filepath.ToSlash(s.dir)+"/")
	if name != path.Base(name) {
		return nil, errors.New(fs.ErrInvalid).
			Category(errors.CategoryValidation).
			Context("path", recordPath).
			Build()
	}

	f, err := s.root.Open(name)
	if err != nil {
		category := errors.CategoryFileIO
		if errors.Is(err, fs.ErrNotExist) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).Category(category).Context("path", recordPath).Build()
	}
	return f, nil
}

// Dir returns the configured directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

func (s *Store) fileError(op, name string, err error) error {
	return errors.New(fmt.Errorf("imagestore: %s %s: %w", op, name, err)).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("dir", s.dir).
		Build()
}
