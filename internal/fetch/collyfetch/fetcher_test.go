package collyfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/fetch"
)

const docsPage = `<!DOCTYPE html>
<html>
<head><title>Users API</title></head>
<body>
<nav><a href="/pricing">Pricing</a></nav>
<main>
<h1>List users</h1>
<p>GET /v1/users returns a paginated list.</p>
<a href="/docs/auth">Authentication</a>
<a href="https://elsewhere.example.org/off-site">Elsewhere</a>
</main>
<footer>Copyright</footer>
</body>
</html>`

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Config{Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchExtractsHTMLPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(docsPage))
	}))
	defer srv.Close()

	result, err := newFetcher(t).Fetch(context.Background(), srv.URL, fetch.Options{
		WantLinks:       true,
		OnlyMainContent: true,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "Users API", result.Title)
	require.Contains(t, result.Content, "GET /v1/users")
	require.NotContains(t, result.Content, "Pricing", "nav content should be stripped")
	require.Contains(t, result.Links, srv.URL+"/docs/auth")
	require.Contains(t, result.Links, "https://elsewhere.example.org/off-site")
}

func TestFetchPassesThroughNonHTML(t *testing.T) {
	t.Parallel()

	spec := `{"openapi": "3.0.0", "info": {"title": "Users"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(spec))
	}))
	defer srv.Close()

	result, err := newFetcher(t).Fetch(context.Background(), srv.URL, fetch.Options{})
	require.NoError(t, err)
	require.Equal(t, spec, result.Content)
	require.Empty(t, result.Title)
}

func TestFetchClassifiesNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL+"/missing", fetch.Options{})
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.ErrNotFound, fe.Code)
	require.False(t, fe.Retryable())
}

func TestFetchClassifiesRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL, fetch.Options{})
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.ErrRateLimited, fe.Code)
	require.True(t, fe.Retryable())
	require.Equal(t, 7*time.Second, fe.RetryAfter)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := newFetcher(t).Fetch(context.Background(), "ftp://example.com/docs", fetch.Options{})
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.ErrInvalidURL, fe.Code)
}

func TestFetchHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(docsPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newFetcher(t).Fetch(ctx, srv.URL, fetch.Options{})
	require.ErrorIs(t, err, context.Canceled)
}
