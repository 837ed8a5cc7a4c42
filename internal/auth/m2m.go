package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"busticket/internal/config"
	"busticket/internal/logger"
	"busticket/internal/models"
)

// CredentialProvider yields the bearer token attached to every API call. An empty
// token means the call is made anonymously.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, e.g. a user session token handed to the CLI.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// ClientCredentials obtains tokens with the OAuth2 client credentials grant and
// reuses them until shortly before they expire.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	client *http.Client
	store  TokenStore
	logger *logger.Logger
	mu     sync.Mutex
}

func NewClientCredentials(cfg config.AuthConfig, client *http.Client, store TokenStore, log *logger.Logger) *ClientCredentials {
	if store == nil {
		store = &MemoryTokenStore{}
	}
	return &ClientCredentials{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		client:       client,
		store:        store,
		logger:       log,
	}
}

// NewProvider picks the provider the configuration asks for.
func NewProvider(cfg config.AuthConfig, client *http.Client, store TokenStore, log *logger.Logger) CredentialProvider {
	if cfg.ClientID != "" {
		return NewClientCredentials(cfg, client, store, log)
	}
	return StaticToken(cfg.Token)
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, err := c.store.GetToken(ctx)
	if err != nil {
		c.logger.Warn("AUTH", fmt.Sprintf("Token cache unavailable, requesting a new token: %v", err))
	} else if cached != nil {
		return cached.Token, nil
	}

	tokenResp, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	if tokenResp.ExpiresIn <= 0 {
		if exp, err := ExpiryFromJWT(tokenResp.AccessToken); err == nil {
			expiresAt = exp
		}
	}

	if err := c.store.SetToken(ctx, tokenResp.AccessToken, expiresAt); err != nil {
		c.logger.Warn("AUTH", fmt.Sprintf("Failed to cache token: %v", err))
	}

	return tokenResp.AccessToken, nil
}

func (c *ClientCredentials) requestToken(ctx context.Context) (*models.TokenResponse, error) {
	c.logger.Debug("AUTH", fmt.Sprintf("Requesting token from: %s", c.TokenURL))

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.ClientID)
	data.Set("client_secret", c.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("AUTH", fmt.Sprintf("Token request failed: %v", err))
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Error("AUTH", fmt.Sprintf("Error closing response body: %v", cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("AUTH", fmt.Sprintf("Token endpoint returned %s: %s", resp.Status, string(bodyBytes)))
		return nil, fmt.Errorf("failed to get token, status: %s", resp.Status)
	}

	var tokenResp models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}

	c.logger.Info("AUTH", fmt.Sprintf("Obtained API token for client %s", c.ClientID))
	return &tokenResp, nil
}
