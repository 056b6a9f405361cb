// Package auth exchanges a long-lived offline token for short-lived
// access tokens and hands out HTTP clients that attach them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrCredentials reports a missing or incomplete credentials file.
var ErrCredentials = errors.New("auth: invalid credentials")

// tokenBuffer is how long before expiry a token is refreshed.
const tokenBuffer = 60 * time.Second

// Scopes requested on every token exchange.
const scopes = "offline_access openid"

// Credentials holds the OAuth2 client and offline token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	OfflineToken string
}

// LoadCredentials reads a credentials file of KEY=VALUE lines:
//
//	CLIENT_ID=...
//	CLIENT_SECRET=...
//	OFFLINE_TOKEN=...
//
// Blank lines and #-comments are ignored. Missing keys are named in
// the returned error.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("%w: credentials file not found: %s", ErrCredentials, path)
		}
		return Credentials{}, fmt.Errorf("auth: read %s: %w", path, err)
	}

	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	creds := Credentials{
		ClientID:     values["CLIENT_ID"],
		ClientSecret: values["CLIENT_SECRET"],
		OfflineToken: values["OFFLINE_TOKEN"],
	}

	var missing []string
	if creds.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if creds.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if creds.OfflineToken == "" {
		missing = append(missing, "OFFLINE_TOKEN")
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%w: missing %s in %s",
			ErrCredentials, strings.Join(missing, ", "), path)
	}
	return creds, nil
}

// NewTokenSource returns a source that exchanges the offline token at
// tokenURL and caches access tokens, refreshing them one minute before
// expiry.
func NewTokenSource(ctx context.Context, creds Credentials, tokenURL string) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:       strings.Fields(scopes),
	}
	refreshing := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.OfflineToken})
	return oauth2.ReuseTokenSourceWithExpiry(nil, refreshing, tokenBuffer)
}

// NewHTTPClient returns an HTTP client whose requests carry a bearer
// token from the source.
func NewHTTPClient(ctx context.Context, src oauth2.TokenSource) *http.Client {
	client := oauth2.NewClient(ctx, src)
	client.Timeout = 10 * time.Minute
	return client
}
