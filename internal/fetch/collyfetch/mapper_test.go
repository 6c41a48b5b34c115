package collyfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/fetch"
)

func newMapper(t *testing.T) *Mapper {
	t.Helper()
	return NewMapper(Config{Timeout: 5 * time.Second}, zap.NewNop())
}

func TestMapUsesSitemap(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/docs/users</loc></url>
  <url><loc>%s/docs/auth</loc></url>
  <url><loc>https://elsewhere.example.org/ignored</loc></url>
</urlset>`, srvURL, srvURL)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	result, err := newMapper(t).Map(context.Background(), srv.URL, fetch.MapOptions{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/docs/users", srv.URL + "/docs/auth"}, result.URLs)
}

func TestMapFallsBackToLinkWalk(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
<a href="/docs/users">Users</a>
<a href="/docs/auth">Auth</a>
<a href="https://elsewhere.example.org/offsite">Offsite</a>
</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := newMapper(t).Map(context.Background(), srv.URL, fetch.MapOptions{Limit: 10})
	require.NoError(t, err)
	require.Contains(t, result.URLs, srv.URL+"/docs/users")
	require.Contains(t, result.URLs, srv.URL+"/docs/auth")
	require.NotContains(t, result.URLs, "https://elsewhere.example.org/offsite")
}

func TestMapSearchHintSortsFirst(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<urlset>
  <url><loc>%s/blog/news</loc></url>
  <url><loc>%s/api-reference/users</loc></url>
</urlset>`, srvURL, srvURL)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	result, err := newMapper(t).Map(context.Background(), srv.URL, fetch.MapOptions{
		Limit:      10,
		SearchHint: "api-reference",
	})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/api-reference/users", result.URLs[0])
}

func TestMapRootFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newMapper(t).Map(context.Background(), srv.URL, fetch.MapOptions{Limit: 10})
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.ErrNotFound, fe.Code)
}

func TestMapRejectsInvalidRoot(t *testing.T) {
	t.Parallel()

	_, err := newMapper(t).Map(context.Background(), "not a url", fetch.MapOptions{})
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetch.ErrInvalidURL, fe.Code)
}
