package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/taskwatch/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Single writer. This also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

type snapshotRow struct {
	EntityID string `db:"entity_id"`
	Count    int    `db:"count"`
}

// LoadSnapshot returns the recorded entity counts. An empty database
// yields an empty, non-nil snapshot.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (model.Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT entity_id, count FROM snapshot",
	); err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	snap := make(model.Snapshot, len(rows))
	for _, r := range rows {
		snap[r.EntityID] = r.Count
	}
	return snap, nil
}

// ReplaceSnapshot deletes every recorded count and inserts snap in one
// transaction, so a crash leaves either the old or the new snapshot.
func (s *SQLiteStore) ReplaceSnapshot(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot"); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	if len(snap) > 0 {
		stmt, err := tx.PreparexContext(ctx,
			"INSERT INTO snapshot (entity_id, count, seen_at) VALUES (?, ?, ?)",
		)
		if err != nil {
			return fmt.Errorf("preparing snapshot insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for id, count := range snap {
			if _, err := stmt.ExecContext(ctx, id, count, now); err != nil {
				return fmt.Errorf("inserting snapshot entry %s: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// CreateNotification appends a record to the notification log.
func (s *SQLiteStore) CreateNotification(
	ctx context.Context,
	n model.Notification,
) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, entity_id, kind, message, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.EntityID, n.Kind, n.Message,
		boolToInt(n.Delivered), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// RecentNotifications returns up to limit notifications, newest first.
func (s *SQLiteStore) RecentNotifications(
	ctx context.Context,
	limit int,
) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	var notifications []model.Notification
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, entity_id, kind, message, delivered, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	return notifications, nil
}

// GetCredential returns the value stored under key.
func (s *SQLiteStore) GetCredential(
	ctx context.Context,
	key string,
) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM credentials WHERE key = ?", key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return value, true, nil
}

// SetCredential overwrites the value stored under key.
func (s *SQLiteStore) SetCredential(
	ctx context.Context,
	key, value string,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
