package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2/clientcredentials"
)

// oauthTokenCache performs the client_credentials token exchange once per
// distinct (token_url, client_id) pair and caches the resulting bearer
// token for the life of the run, per §4.4's "performs a client_credentials
// token exchange once and caches the bearer."
type oauthTokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newOAuthTokenCache() *oauthTokenCache {
	return &oauthTokenCache{tokens: make(map[string]string)}
}

func (c *oauthTokenCache) token(ctx context.Context, auth *StepAuth) (string, error) {
	key := strings.Join([]string{auth.TokenURL, auth.ClientID}, "|")

	c.mu.Lock()
	if tok, ok := c.tokens[key]; ok {
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	cfg := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth2 client_credentials exchange failed: %w", err)
	}

	c.mu.Lock()
	c.tokens[key] = tok.AccessToken
	c.mu.Unlock()
	return tok.AccessToken, nil
}
