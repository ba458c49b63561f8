package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// HTTPBundleFetcher is the production BundleFetcher: a plain net/http client.
type HTTPBundleFetcher struct {
	Client *http.Client
	// TokenSource, when set, attaches a bearer token to every fetch —
	// used when the manifest/bundle lives behind the same relay that
	// health.RelayCredentials authenticates the WebSocket dial against.
	TokenSource oauth2.TokenSource
}

// NewHTTPBundleFetcher returns a fetcher with a sane request timeout.
func NewHTTPBundleFetcher() *HTTPBundleFetcher {
	return &HTTPBundleFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPBundleFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: build bundle request: %w", err)
	}
	if f.TokenSource != nil {
		tok, err := f.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("lifecycle: relay token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetch bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lifecycle: fetch bundle: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read bundle body: %w", err)
	}
	return body, nil
}
