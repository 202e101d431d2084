// Package store persists the speech handler's history in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultRecentLimit is used when Recent is called with a non-positive limit.
const DefaultRecentLimit = 50

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

// Utterance is one finished speech job.
type Utterance struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  string    `gorm:"size:64;index" json:"request_id"`
	Kind       string    `gorm:"size:16;index" json:"kind"`
	Text       string    `json:"text"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `gorm:"index" json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Failed reports whether the job ended with an error.
func (u Utterance) Failed() bool {
	return u.Error != ""
}

// Store is a SQLite-backed utterance history.
type Store struct {
	mu     sync.RWMutex
	db     *gorm.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use MemoryPath for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own database.
	if path == MemoryPath {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Utterance{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("history store opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Save inserts u. A zero FinishedAt is set to now.
func (s *Store) Save(ctx context.Context, u *Utterance) error {
	db := s.handle()
	if db == nil {
		return ErrClosed
	}
	if u.FinishedAt.IsZero() {
		u.FinishedAt = time.Now()
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("save utterance: %w", err)
	}
	return nil
}

// Recent returns up to limit utterances, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Utterance, error) {
	db := s.handle()
	if db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	var out []Utterance
	err := db.WithContext(ctx).
		Order("finished_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query recent utterances: %w", err)
	}
	return out, nil
}

// Count returns the number of stored utterances.
func (s *Store) Count(ctx context.Context) (int64, error) {
	db := s.handle()
	if db == nil {
		return 0, ErrClosed
	}
	var n int64
	if err := db.WithContext(ctx).Model(&Utterance{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count utterances: %w", err)
	}
	return n, nil
}

func (s *Store) handle() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogWriter adapts slog to gorm's logger.Writer.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

func newGormLogger(logger *slog.Logger) gormlogger.Interface {
	return gormlogger.New(slogWriter{logger: logger}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
