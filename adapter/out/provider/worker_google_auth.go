package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/crypto"
	"cleanup_worker/pkg/httputil"
	"cleanup_worker/pkg/logger"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
)

// DefaultScopes covers listing, downloading and deleting Drive files and Gmail messages.
var DefaultScopes = []string{
	drive.DriveScope,
	gmail.MailGoogleComScope,
}

// OAuthConfig points at the installed-app client secret and the cached user token.
// With Encryptor set the token file is sealed at rest.
type OAuthConfig struct {
	CredentialsFile string
	TokenFile       string
	Scopes          []string
	Encryptor       *crypto.Encryptor
}

func (c OAuthConfig) oauth2Config() (*oauth2.Config, error) {
	data, err := os.ReadFile(c.CredentialsFile)
	if err != nil {
		return nil, apperr.ConfigErrorf("read credentials file %s: %v", c.CredentialsFile, err)
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, apperr.ConfigErrorf("parse credentials file %s: %v", c.CredentialsFile, err)
	}
	return cfg, nil
}

// AuthCodeURL returns the consent URL for the one-time authorization step.
func AuthCodeURL(c OAuthConfig) (string, error) {
	cfg, err := c.oauth2Config()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeAndSave trades an authorization code for a token and writes TokenFile.
func ExchangeAndSave(ctx context.Context, c OAuthConfig, code string) error {
	cfg, err := c.oauth2Config()
	if err != nil {
		return err
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return apperr.RemoteRejected("oauth", 0, fmt.Errorf("exchange authorization code: %w", err))
	}
	return saveToken(c.TokenFile, c.Encryptor, token)
}

// TokenSource loads the cached token and refreshes it as needed, writing
// refreshed tokens back to TokenFile.
func TokenSource(ctx context.Context, c OAuthConfig) (oauth2.TokenSource, error) {
	cfg, err := c.oauth2Config()
	if err != nil {
		return nil, err
	}
	token, err := loadToken(c.TokenFile, c.Encryptor)
	if err != nil {
		return nil, err
	}
	return &persistingTokenSource{
		base: cfg.TokenSource(ctx, token),
		path: c.TokenFile,
		enc:  c.Encryptor,
		last: token.AccessToken,
	}, nil
}

type persistingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	path string
	enc  *crypto.Encryptor
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := saveToken(s.path, s.enc, token); err != nil {
			logger.WithError(err).Warn("failed to persist refreshed oauth token")
		}
	}
	return token, nil
}

func loadToken(path string, enc *crypto.Encryptor) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.ConfigErrorf("token file %s not found, run with -mode authorize first", path)
	}
	if err != nil {
		return nil, apperr.ConfigErrorf("read token file %s: %v", path, err)
	}
	if crypto.IsSealed(data) {
		if enc == nil {
			return nil, apperr.ConfigErrorf("token file %s is encrypted but TOKEN_ENCRYPTION_KEY is not set", path)
		}
		if data, err = enc.Open(data); err != nil {
			return nil, apperr.ConfigErrorf("decrypt token file %s: %v", path, err)
		}
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, apperr.ConfigErrorf("parse token file %s: %v", path, err)
	}
	return &token, nil
}

func saveToken(path string, enc *crypto.Encryptor, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if enc != nil {
		if data, err = enc.Seal(data); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// authorizedClient layers the token source over the pooled Google API transport.
func authorizedClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	base := httputil.NewClient(httputil.GoogleAPIClientConfig())
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)
}
