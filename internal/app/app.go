// Package app assembles the monitor's components from configuration.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/credential"
	"github.com/nhle/taskwatch/internal/identity"
	"github.com/nhle/taskwatch/internal/model"
	"github.com/nhle/taskwatch/internal/notify"
	"github.com/nhle/taskwatch/internal/source/tracker"
	"github.com/nhle/taskwatch/internal/store"
	appsync "github.com/nhle/taskwatch/internal/sync"
)

// App holds the wired components for one process.
type App struct {
	Config      *model.AppConfig
	Store       *store.SQLiteStore
	Credentials credential.Store
	Notifier    notify.Notifier
	Refresher   *identity.Refresher
	Source      *tracker.Client
	Poller      *appsync.Poller

	logger zerolog.Logger
}

// New validates cfg and builds every component. The caller must Close the
// returned App.
func New(cfg *model.AppConfig, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &App{
		Config: cfg,
		Store:  st,
		logger: logger,
	}

	creds, err := newCredentialStore(cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.Credentials = creds

	a.Notifier = newNotifier(cfg.Notify, logger)
	alerts := appsync.NewAlertRecorder(a.Notifier, st, logger)

	refresher, err := newRefresher(cfg, creds, alerts, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.Refresher = refresher

	a.Source = newTrackerSource(cfg.API, creds, refresher, logger)
	a.Poller = appsync.New(a.Source, st, st, a.Notifier, logger)
	a.Poller.CycleTimeout = cfg.CycleTimeout()

	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// newCredentialStore picks the configured backend and layers the seed
// token underneath it.
func newCredentialStore(
	cfg *model.AppConfig,
	st *store.SQLiteStore,
	logger zerolog.Logger,
) (credential.Store, error) {
	var backend credential.Store

	switch cfg.Storage.CredentialBackend {
	case "sqlite":
		backend = credential.NewSQLStore(st, logger)
	case "keyring":
		ring, err := credential.OpenKeyring(cfg.Storage.KeyringDir)
		if err != nil {
			return nil, err
		}
		backend = credential.NewKeyringStore(ring, logger)
	default:
		return nil, errors.New("no credential backend configured")
	}

	return credential.WithSeed(backend, cfg.SeedToken, logger), nil
}
