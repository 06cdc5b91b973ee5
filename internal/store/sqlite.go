package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DefaultSQLitePath is used when no path is configured
const DefaultSQLitePath = "data/marketfeed.db"

// kvEntry is the single table backing the SQLite store
type kvEntry struct {
	Key       string `gorm:"primaryKey;column:name"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLite persists the key/value namespace in a pure-Go SQLite file
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens (and migrates) the database at path
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).First(&entry, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	entry := kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("name IN ?", keys).Delete(&kvEntry{}).Error; err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.db.WithContext(ctx).Model(&kvEntry{})
	if prefix != "" {
		// substr avoids LIKE treating '_' in key prefixes as a wildcard
		q = q.Where("substr(name, 1, ?) = ?", len(prefix), prefix)
	}
	if err := q.Order("name").Pluck("name", &keys).Error; err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	return keys, nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
