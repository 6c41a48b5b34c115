package triage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"strips query", "https://docs.example.com/api?utm_source=x", "https://docs.example.com/api"},
		{"strips fragment", "https://docs.example.com/api#section", "https://docs.example.com/api"},
		{"strips trailing slash", "https://docs.example.com/api/", "https://docs.example.com/api"},
		{"lowercases host", "https://Docs.Example.COM/api", "https://docs.example.com/api"},
		{"removes default port", "https://docs.example.com:443/api", "https://docs.example.com/api"},
		{"root url", "https://docs.example.com/", "https://docs.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_Idempotent(t *testing.T) {
	urls := []string{
		"https://docs.example.com/api/v2/users?page=3#auth",
		"http://Docs.Example.com:80/reference/",
		"https://docs.example.com",
	}
	for _, u := range urls {
		once, err := NormalizeURL(u)
		require.NoError(t, err)
		twice, err := NormalizeURL(once)
		require.NoError(t, err)
		require.Equal(t, once, twice)
	}
}

func TestNormalizeURL_Relative(t *testing.T) {
	_, err := NormalizeURL("/docs/api")
	require.Error(t, err)
}

func TestDedupe(t *testing.T) {
	urls := []string{
		"https://docs.example.com/api?a=1",
		"https://docs.example.com/api/",
		"https://docs.example.com/auth",
		"not a url at all ://",
	}
	got := Dedupe(urls)
	require.Equal(t, []string{
		"https://docs.example.com/api",
		"https://docs.example.com/auth",
	}, got)
}
