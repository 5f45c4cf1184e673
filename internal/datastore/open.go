package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// Open connects to the database selected by settings.Type.
func Open(settings *conf.StorageSettings) (*gorm.DB, error) {
	gormLogger := logger.NewGormLoggerAdapter(GetLogger().Module("sql"), settings.SlowQuery)

	switch settings.Type {
	case "sqlite", "":
		return openSQLite(settings.SQLite.Path, &gorm.Config{Logger: gormLogger})
	case "mysql":
		return openMySQL(&settings.MySQL, &gorm.Config{Logger: gormLogger})
	default:
		return nil, errors.Newf("unsupported storage type %q", settings.Type).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func openSQLite(dbPath string, cfg *gorm.Config) (*gorm.DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.New(fmt.Errorf("failed to create database directory: %w", err)).
					Category(errors.CategoryFileIO).
					Build()
			}
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open SQLite database: %w", err)).
			Category(errors.CategoryDatabase).
			FileContext(dbPath, 0).
			Build()
	}

	// One connection: every write already runs under the store lock, and an
	// in-memory database only exists on the connection that created it.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryDatabase).Build()
	}
	sqlDB.SetMaxOpenConns(1)

	GetLogger().Info("opened SQLite database", logger.String("path", dbPath))
	return db, nil
}

func openMySQL(settings *conf.MySQLSettings, cfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(settings.DSN()), cfg)
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", settings.Host),
			logger.Int("port", settings.Port),
			logger.String("database", settings.Database),
			logger.Error(err))
		return nil, errors.New(fmt.Errorf("failed to open MySQL database: %w", err)).
			Category(errors.CategoryDatabase).
			NetworkContext(settings.Host, 0).
			Build()
	}

	GetLogger().Info("opened MySQL database",
		logger.String("host", settings.Host),
		logger.String("database", settings.Database))
	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
