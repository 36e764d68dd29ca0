package store

import (
	"context"

	"github.com/nhle/taskwatch/internal/model"
)

// SnapshotStore persists the entity-count snapshot between cycles.
type SnapshotStore interface {
	// LoadSnapshot returns the last recorded snapshot, empty on first run.
	LoadSnapshot(ctx context.Context) (model.Snapshot, error)

	// ReplaceSnapshot atomically replaces the whole snapshot.
	ReplaceSnapshot(ctx context.Context, snap model.Snapshot) error
}

// NotificationLog records every message handed to the notifier.
type NotificationLog interface {
	CreateNotification(ctx context.Context, n model.Notification) error
	RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error)
}

// CredentialTable is a durable key-value table for credentials.
type CredentialTable interface {
	// GetCredential returns the stored value and whether one exists.
	GetCredential(ctx context.Context, key string) (string, bool, error)
	SetCredential(ctx context.Context, key, value string) error
}

// Store is the full persistence interface backed by SQLite.
type Store interface {
	SnapshotStore
	NotificationLog
	CredentialTable
	Close() error
}
