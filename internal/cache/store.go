// Package cache memoizes translations in SQLite so repeated phrases skip the
// translation backend.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/config"
	_ "modernc.org/sqlite"
)

// Entry is one cached translation.
type Entry struct {
	Source     string
	Dest       string
	Text       string
	Translated string
	Hits       int64
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store wraps a SQLite-backed translation cache.
type Store struct {
	db    *sql.DB
	cfg   config.CacheConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the cache according to config. Mode "off" yields a store
// whose operations are no-ops; "memory" keeps the table in a private
// in-memory database for the life of the process.
func Open(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (*Store, error) {
	if cfg.Mode == "off" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	var dsn string
	switch cfg.Mode {
	case "memory":
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	case "disk":
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	default:
		return nil, fmt.Errorf("unknown cache mode %q", cfg.Mode)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.Mode == "memory" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("translation cache prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS translations (
    source_lang TEXT NOT NULL,
    dest_lang TEXT NOT NULL,
    source_text TEXT NOT NULL,
    translated_text TEXT NOT NULL,
    hits INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    last_used_at INTEGER NOT NULL,
    PRIMARY KEY (source_lang, dest_lang, source_text)
);
CREATE INDEX IF NOT EXISTS idx_translations_last_used ON translations(last_used_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether lookups can ever hit.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Lookup returns the cached translation for text, bumping its hit count.
func (s *Store) Lookup(ctx context.Context, text, source, dest string) (string, bool, error) {
	if !s.Enabled() {
		return "", false, nil
	}
	key := normalize(text)
	var translated string
	err := s.db.QueryRowContext(ctx,
		`SELECT translated_text FROM translations WHERE source_lang = ? AND dest_lang = ? AND source_text = ?`,
		source, dest, key).Scan(&translated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE translations SET hits = hits + 1, last_used_at = ? WHERE source_lang = ? AND dest_lang = ? AND source_text = ?`,
		s.clock().UnixNano(), source, dest, key)
	if err != nil {
		s.log.Warn("translation cache touch failed", slog.String("error", err.Error()))
	}
	return translated, true, nil
}

// Put stores or refreshes a translation.
func (s *Store) Put(ctx context.Context, text, source, dest, translated string) error {
	if !s.Enabled() {
		return nil
	}
	now := s.clock().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations(source_lang, dest_lang, source_text, translated_text, hits, created_at, last_used_at)
		 VALUES(?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(source_lang, dest_lang, source_text) DO UPDATE SET translated_text=excluded.translated_text, last_used_at=excluded.last_used_at`,
		source, dest, normalize(text), translated, now, now)
	return err
}

// Get returns the full entry for inspection.
func (s *Store) Get(ctx context.Context, text, source, dest string) (Entry, bool, error) {
	if !s.Enabled() {
		return Entry{}, false, nil
	}
	var (
		e                 Entry
		created, lastUsed int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT source_lang, dest_lang, source_text, translated_text, hits, created_at, last_used_at
		 FROM translations WHERE source_lang = ? AND dest_lang = ? AND source_text = ?`,
		source, dest, normalize(text)).Scan(&e.Source, &e.Dest, &e.Text, &e.Translated, &e.Hits, &created, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.LastUsedAt = time.Unix(0, lastUsed).UTC()
	return e, true, nil
}

// Count returns the number of cached translations.
func (s *Store) Count(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&n)
	return n, err
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM translations WHERE last_used_at < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM translations WHERE rowid IN (
			SELECT rowid FROM translations ORDER BY last_used_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
