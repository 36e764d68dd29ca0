package credential

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/store"
)

// SQLStore keeps the credential in the state database's credentials table.
// Writes are single upserts, so a crash never leaves a partial value.
type SQLStore struct {
	table  store.CredentialTable
	logger zerolog.Logger
}

// NewSQLStore creates a Store backed by table.
func NewSQLStore(table store.CredentialTable, logger zerolog.Logger) *SQLStore {
	return &SQLStore{
		table:  table,
		logger: logger.With().Str("component", "credential").Str("backend", "sqlite").Logger(),
	}
}

func (s *SQLStore) Load(ctx context.Context) (string, bool) {
	value, ok, err := s.table.GetCredential(ctx, accessTokenKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reading credential failed")
		return "", false
	}
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func (s *SQLStore) Save(ctx context.Context, token string) error {
	return s.table.SetCredential(ctx, accessTokenKey, token)
}
