package triage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		url      string
		category Category
		score    int
		exclude  bool
	}{
		{"https://docs.example.com/authentication", CategoryAuth, 95, false},
		{"https://docs.example.com/guides/oauth2/scopes", CategoryAuth, 95, false},
		{"https://docs.example.com/api-keys", CategoryAuth, 95, false},
		{"https://docs.example.com/rate-limits", CategoryRateLimit, 85, false},
		{"https://docs.example.com/api/v2/users", CategoryEndpoint, 80, false},
		{"https://docs.example.com/endpoints/messages", CategoryEndpoint, 80, false},
		{"https://docs.example.com/api-reference", CategoryReference, 75, false},
		{"https://docs.example.com/getting-started", CategoryGettingStarted, 60, false},
		{"https://docs.example.com/concepts", CategoryOverview, 40, false},
		{"https://docs.example.com/blog/launch", CategoryExcluded, 0, true},
		{"https://docs.example.com/pricing", CategoryExcluded, 0, true},
		{"https://docs.example.com/legal/terms", CategoryExcluded, 0, true},
		{"https://docs.example.com/assets/logo.png", CategoryExcluded, 0, true},
		{"https://docs.example.com/sdk.zip", CategoryExcluded, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			got := Classify(tc.url)
			require.Equal(t, tc.category, got.Category)
			require.Equal(t, tc.score, got.Score)
			require.Equal(t, tc.exclude, got.Exclude)
		})
	}
}

func TestClassify_AuthScoresHighest(t *testing.T) {
	auth := Classify("https://docs.example.com/auth").Score
	for _, u := range []string{
		"https://docs.example.com/rate-limits",
		"https://docs.example.com/api/v1/users",
		"https://docs.example.com/reference",
		"https://docs.example.com/quickstart",
	} {
		require.Greater(t, auth, Classify(u).Score, "auth must outrank %s", u)
	}
}
