package driveauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// PersistingTokenSource wraps an oauth2.TokenSource (normally
// oauth2.Config.TokenSource, which refreshes automatically) and persists
// the token to disk whenever a refresh produces a new access token —
// the equivalent of the teacher's OnTokenChange callback, built directly
// against the stock oauth2 package instead of a forked one.
type PersistingTokenSource struct {
	mu      sync.Mutex
	inner   oauth2.TokenSource
	path    string
	lastTok string
}

// NewPersistingTokenSource wraps src, persisting refreshed tokens to path.
func NewPersistingTokenSource(src oauth2.TokenSource, path string) *PersistingTokenSource {
	return &PersistingTokenSource{inner: src, path: path}
}

// Token implements oauth2.TokenSource and graph-style TokenSource
// consumers that only need a bearer string.
func (p *PersistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, fmt.Errorf("driveauth: refreshing token: %w", err)
	}

	p.mu.Lock()
	changed := tok.AccessToken != p.lastTok
	p.lastTok = tok.AccessToken
	p.mu.Unlock()

	if changed {
		if err := SaveToken(p.path, tok); err != nil {
			return nil, fmt.Errorf("driveauth: persisting refreshed token: %w", err)
		}
	}

	return tok, nil
}

// BearerToken adapts Token() to the plain-string TokenSource shape used by
// internal/storage's restClient (mirrors graph.TokenSource).
func (p *PersistingTokenSource) BearerToken() (string, error) {
	tok, err := p.Token()
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// NewFromConfig builds a PersistingTokenSource from an oauth2.Config and a
// previously obtained token, loading the saved token from path if tok is
// nil.
func NewFromConfig(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, path string) (*PersistingTokenSource, error) {
	if tok == nil {
		loaded, err := LoadToken(path)
		if err != nil {
			return nil, err
		}

		tok = loaded
	}

	if tok == nil {
		return nil, fmt.Errorf("driveauth: no token available at %s, link the provider first", path)
	}

	return NewPersistingTokenSource(cfg.TokenSource(ctx, tok), path), nil
}
