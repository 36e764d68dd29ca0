package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"
)

const serviceName = "taskwatch"

// OpenKeyring returns a configured keyring instance. The encrypted file
// backend under fileDir is used when no system keyring is available.
func OpenKeyring(fileDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("taskwatch-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// storedToken is the JSON document kept in the keyring item.
type storedToken struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// KeyringStore keeps the credential in the system keyring.
type KeyringStore struct {
	ring   keyring.Keyring
	logger zerolog.Logger
}

// NewKeyringStore creates a Store backed by ring.
func NewKeyringStore(ring keyring.Keyring, logger zerolog.Logger) *KeyringStore {
	return &KeyringStore{
		ring:   ring,
		logger: logger.With().Str("component", "credential").Str("backend", "keyring").Logger(),
	}
}

// Load retrieves the credential from the keyring.
func (k *KeyringStore) Load(_ context.Context) (string, bool) {
	item, err := k.ring.Get(accessTokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false
	}
	if err != nil {
		k.logger.Warn().Err(err).Msg("reading credential failed")
		return "", false
	}

	var doc storedToken
	if err := json.Unmarshal(item.Data, &doc); err != nil || doc.AccessToken == "" {
		k.logger.Warn().Msg("stored credential is unreadable")
		return "", false
	}
	return doc.AccessToken, true
}

// Save replaces the credential in the keyring with a single item write.
func (k *KeyringStore) Save(_ context.Context, token string) error {
	data, err := json.Marshal(storedToken{
		AccessToken: token,
		SavedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	err = k.ring.Set(keyring.Item{
		Key:         accessTokenKey,
		Data:        data,
		Label:       "taskwatch access token",
		Description: "Bearer token for the project tracker API",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", accessTokenKey, err)
	}
	return nil
}
