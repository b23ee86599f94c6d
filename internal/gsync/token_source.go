package gsync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
)

// refreshBuffer mirrors the credential service: a token inside the
// buffer is treated as expired so a paginated run cannot outlive it.
const refreshBuffer = 5 * time.Minute

// persistingSource is an oauth2.TokenSource that refreshes through the
// provider and writes rotated credentials back through the vault, so a
// rotation mid-run is not lost if the process stops afterwards.
type persistingSource struct {
	ctx    context.Context
	engine *Engine
	in     *integrations.Integration

	mu    sync.Mutex
	creds *vault.Credentials
}

func newPersistingSource(ctx context.Context, engine *Engine, in *integrations.Integration, creds *vault.Credentials) *persistingSource {
	return &persistingSource{ctx: ctx, engine: engine, in: in, creds: creds}
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !providers.Expired(s.creds, refreshBuffer) {
		return s.oauthToken(), nil
	}

	fresh, err := s.engine.google.RefreshToken(s.ctx, s.creds)
	if err != nil {
		return nil, err
	}
	s.creds = fresh
	if err := s.engine.service.PersistRefreshed(s.ctx, s.in, fresh); err != nil {
		// The rotated token still works for this run.
		s.engine.logger.Error("persist mid-run token rotation failed",
			"integration_id", s.in.ID, "error", err)
	}
	return s.oauthToken(), nil
}

func (s *persistingSource) oauthToken() *oauth2.Token {
	tok := &oauth2.Token{AccessToken: s.creds.AccessToken, TokenType: s.creds.TokenType}
	if s.creds.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(s.creds.ExpiryDate)
	}
	return tok
}
