package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

type staticTokenSource struct{ token *oauth2.Token }

func (s staticTokenSource) Token() (*oauth2.Token, error) { return s.token, nil }

func TestHTTPBundleFetcherFetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bundle-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPBundleFetcher()
	got, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "bundle-bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestHTTPBundleFetcherAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPBundleFetcher()
	f.TokenSource = staticTokenSource{token: &oauth2.Token{AccessToken: "tok123", TokenType: "Bearer"}}

	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestHTTPBundleFetcherNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPBundleFetcher()
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}
