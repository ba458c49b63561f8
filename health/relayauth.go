package health

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// RelayCredentials configures the client-credentials grant the runtime
// uses to authenticate its WebSocket dial (ConnectWebsocket's url) to a
// relay that requires a bearer token rather than an open connection.
type RelayCredentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// TokenSource returns an oauth2 token source that refreshes itself; the
// health Monitor reads Token().AccessToken for its reconnect dial, and
// lifecycle.HTTPBundleFetcher for bundle fetches.
func (rc RelayCredentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	cfg := clientcredentials.Config{
		ClientID:     rc.ClientID,
		ClientSecret: rc.ClientSecret,
		TokenURL:     rc.TokenURL,
		Scopes:       rc.Scopes,
	}
	return cfg.TokenSource(ctx)
}

type bearerClaims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// ParseBearerSubject reads the subject claim out of an already-issued
// relay bearer token without re-verifying its signature — the relay
// authenticated it at issuance, and the runtime only needs the principal
// name for diagnostic logging around reconnect attempts.
func ParseBearerSubject(token string) (string, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims bearerClaims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("health: parse relay bearer token: %w", err)
	}
	return claims.Subject, nil
}
