// Package credential holds the single access credential used against the
// tracker API. Read or write failures never surface to callers as fatal:
// a failed Load reports no credential, which forces re-authentication.
package credential

import (
	"context"

	"github.com/rs/zerolog"
)

// accessTokenKey is the key the access token is stored under.
const accessTokenKey = "access_token"

// Store is a durable holder for at most one access credential.
type Store interface {
	// Load returns the stored credential and whether one was found.
	Load(ctx context.Context) (string, bool)

	// Save overwrites the stored credential.
	Save(ctx context.Context, token string) error
}

// Seeded prefers the persisted credential and falls back to an externally
// supplied seed when nothing has been persisted yet.
type Seeded struct {
	store  Store
	seed   string
	logger zerolog.Logger
}

// WithSeed wraps store so Load falls back to seed.
func WithSeed(store Store, seed string, logger zerolog.Logger) *Seeded {
	return &Seeded{store: store, seed: seed, logger: logger}
}

// Load returns the persisted credential, or the seed if none is persisted.
func (s *Seeded) Load(ctx context.Context) (string, bool) {
	if token, ok := s.store.Load(ctx); ok {
		return token, true
	}
	if s.seed == "" {
		return "", false
	}
	s.logger.Debug().Msg("using seed credential")
	return s.seed, true
}

// Save persists token. The seed is never written back.
func (s *Seeded) Save(ctx context.Context, token string) error {
	return s.store.Save(ctx, token)
}
