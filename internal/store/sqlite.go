package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
)

// Entry is the single table backing the key-value store.
type Entry struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time
}

// SQLiteStore persists entries in a sqlite database. MaxValueBytes > 0
// enforces a per-value write quota.
type SQLiteStore struct {
	db            *gorm.DB
	maxValueBytes int
}

// OpenSQLite opens (and migrates) the store at path.
func OpenSQLite(path string, maxValueBytes int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db, maxValueBytes: maxValueBytes}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string, out any) (bool, error) {
	var entry Entry
	result := s.db.WithContext(ctx).Where("key = ?", key).First(&entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	return true, json.Unmarshal([]byte(entry.Value), out)
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.maxValueBytes > 0 && len(raw) > s.maxValueBytes {
		return errx.Newf(errx.CodeQuotaExceeded,
			"value for %q is %d bytes, quota is %d", key, len(raw), s.maxValueBytes)
	}

	entry := Entry{Key: key, Value: string(raw), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&entry).Error
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&Entry{}, "key = ?", key).Error
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
