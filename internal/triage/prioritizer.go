package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/llm"
)

// PrioritizedURL is a scored candidate page. It lives only within one job run.
type PrioritizedURL struct {
	URL           string   `json:"url"`
	Priority      int      `json:"priority"`
	Category      Category `json:"category"`
	Reason        string   `json:"reason,omitempty"`
	WishlistMatch bool     `json:"wishlist_match,omitempty"`
	MatchedTerms  []string `json:"matched_terms,omitempty"`
}

// Options tunes one triage pass.
type Options struct {
	MaxPages        int
	Wishlist        []string
	CharBudget      int
	MinLLMSelection int
	AuthCap         int
	MaxOutputTokens int
}

const (
	defaultMaxPages        = 20
	defaultCharBudget      = 24000
	defaultMinLLMSelection = 3
	defaultAuthCap         = 3
)

func (o *Options) applyDefaults() {
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.CharBudget <= 0 {
		o.CharBudget = defaultCharBudget
	}
	if o.MinLLMSelection <= 0 {
		o.MinLLMSelection = defaultMinLLMSelection
	}
	if o.AuthCap <= 0 {
		o.AuthCap = defaultAuthCap
	}
}

// Prioritizer selects the pages worth fetching, via one model triage call
// with a pattern-score fallback.
type Prioritizer struct {
	client llm.Client
	retry  llm.RetryPolicy
	logger *zap.Logger
}

// NewPrioritizer builds a Prioritizer. A nil client means pattern-only triage.
func NewPrioritizer(client llm.Client, retry llm.RetryPolicy, logger *zap.Logger) *Prioritizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prioritizer{client: client, retry: retry, logger: logger}
}

// candidate pairs a URL with its pattern score and discovery index.
type candidate struct {
	url   string
	class Classification
	index int
}

// Prioritize selects up to opts.MaxPages URLs in priority-descending order,
// ties broken by discovery order.
func (p *Prioritizer) Prioritize(ctx context.Context, urls []string, rootURL string, opts Options) []PrioritizedURL {
	opts.applyDefaults()

	candidates := buildCandidates(urls)
	if len(candidates) == 0 {
		return nil
	}

	pool, skipped := capToCharBudget(candidates, opts.CharBudget)
	if skipped > 0 {
		p.logger.Info("triage pool truncated to character budget",
			zap.Int("skipped", skipped),
			zap.Int("kept", len(pool)),
		)
	}

	selected := p.triageWithModel(ctx, pool, rootURL, opts)
	if selected == nil {
		p.logger.Info("falling back to pattern-based triage", zap.String("root", rootURL))
		selected = patternSelect(pool, opts.MaxPages)
	}

	selected = retainAuthURLs(selected, pool, opts)
	selected = boostWishlist(selected, pool, opts)
	selected = padUnderSelection(selected, pool, opts)

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority > selected[j].Priority
	})
	if len(selected) > opts.MaxPages {
		selected = selected[:opts.MaxPages]
	}
	return selected
}

func buildCandidates(urls []string) []candidate {
	deduped := Dedupe(urls)
	out := make([]candidate, 0, len(deduped))
	for i, u := range deduped {
		class := Classify(u)
		if class.Exclude {
			continue
		}
		out = append(out, candidate{url: u, class: class, index: i})
	}
	return out
}

// capToCharBudget keeps the highest-pattern-scoring URLs when the serialized
// list would blow the prompt budget. Returns the pool and the skipped count.
func capToCharBudget(candidates []candidate, budget int) ([]candidate, int) {
	total := 0
	for _, c := range candidates {
		total += len(c.url) + 1
	}
	if total <= budget {
		return candidates, 0
	}

	ranked := make([]candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].class.Score > ranked[j].class.Score
	})

	kept := make(map[string]struct{})
	used := 0
	for _, c := range ranked {
		cost := len(c.url) + 1
		if used+cost > budget {
			break
		}
		used += cost
		kept[c.url] = struct{}{}
	}

	out := make([]candidate, 0, len(kept))
	for _, c := range candidates {
		if _, ok := kept[c.url]; ok {
			out = append(out, c)
		}
	}
	return out, len(candidates) - len(out)
}

// triageResponse is the shape the model is asked to return.
type triageResponse struct {
	Selections []struct {
		URL      string `json:"url"`
		Priority int    `json:"priority"`
		Reason   string `json:"reason"`
	} `json:"selections"`
	AuthURLs []string `json:"auth_urls"`
}

func (p *Prioritizer) triageWithModel(ctx context.Context, pool []candidate, rootURL string, opts Options) []PrioritizedURL {
	if p.client == nil {
		return nil
	}

	known := make(map[string]candidate, len(pool))
	for _, c := range pool {
		known[c.url] = c
	}

	prompt := buildTriagePrompt(pool, rootURL, opts)
	var parsed triageResponse
	_, err := p.retry.Generate(ctx, p.client, prompt,
		llm.GenerateOptions{JSONResponse: true, MaxTokens: opts.MaxOutputTokens},
		func(content string) error {
			var candidateResp triageResponse
			if err := json.Unmarshal([]byte(content), &candidateResp); err != nil {
				return fmt.Errorf("triage response is not valid JSON: %w", err)
			}
			if len(candidateResp.Selections) == 0 {
				return fmt.Errorf("triage response selected no URLs")
			}
			parsed = candidateResp
			return nil
		},
		p.logger,
	)
	if err != nil {
		return nil
	}

	authSet := make(map[string]struct{}, len(parsed.AuthURLs))
	for _, u := range parsed.AuthURLs {
		authSet[u] = struct{}{}
	}

	out := make([]PrioritizedURL, 0, len(parsed.Selections))
	seen := make(map[string]struct{}, len(parsed.Selections))
	for _, sel := range parsed.Selections {
		c, ok := known[sel.URL]
		if !ok {
			// Never trust a URL the model was not given.
			p.logger.Warn("model returned unknown url, dropping", zap.String("url", sel.URL))
			continue
		}
		if _, dup := seen[sel.URL]; dup {
			continue
		}
		seen[sel.URL] = struct{}{}
		priority := sel.Priority
		if priority < 0 {
			priority = 0
		}
		if priority > 100 {
			priority = 100
		}
		category := c.class.Category
		if _, isAuth := authSet[sel.URL]; isAuth {
			category = CategoryAuth
		}
		out = append(out, PrioritizedURL{
			URL:      sel.URL,
			Priority: priority,
			Category: category,
			Reason:   sel.Reason,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func buildTriagePrompt(pool []candidate, rootURL string, opts Options) string {
	var b strings.Builder
	b.WriteString("You are triaging pages of an API documentation site for extraction.\n")
	fmt.Fprintf(&b, "Root URL: %s\n", rootURL)
	fmt.Fprintf(&b, "Select the top %d URLs most useful for describing the API: endpoint references, authentication, rate limits, getting started.\n", opts.MaxPages)
	b.WriteString("Skip marketing, blog and community pages.\n")
	if len(opts.Wishlist) > 0 {
		fmt.Fprintf(&b, "Prefer pages covering these capabilities: %s\n", strings.Join(opts.Wishlist, "; "))
	}
	b.WriteString("\nCandidate URLs:\n")
	for _, c := range pool {
		fmt.Fprintf(&b, "%s\n", c.url)
	}
	b.WriteString("\nRespond with JSON only, shaped as ")
	b.WriteString(`{"selections":[{"url":"...","priority":0-100,"reason":"..."}],"auth_urls":["..."]}`)
	b.WriteString(". Every url must be copied verbatim from the candidate list. List authentication-related pages in auth_urls.\n")
	return b.String()
}

func patternSelect(pool []candidate, maxPages int) []PrioritizedURL {
	ranked := make([]candidate, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].class.Score > ranked[j].class.Score
	})
	if len(ranked) > maxPages {
		ranked = ranked[:maxPages]
	}
	out := make([]PrioritizedURL, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, PrioritizedURL{
			URL:      c.url,
			Priority: c.class.Score,
			Category: c.class.Category,
			Reason:   "pattern score",
		})
	}
	return out
}

// retainAuthURLs guarantees authentication pages survive triage regardless of
// what the model selected, bounded by AuthCap.
func retainAuthURLs(selected []PrioritizedURL, pool []candidate, opts Options) []PrioritizedURL {
	have := make(map[string]struct{}, len(selected))
	authCount := 0
	for _, s := range selected {
		have[s.URL] = struct{}{}
		if s.Category == CategoryAuth {
			authCount++
		}
	}
	for _, c := range pool {
		if authCount >= opts.AuthCap {
			break
		}
		if c.class.Category != CategoryAuth {
			continue
		}
		if _, ok := have[c.url]; ok {
			continue
		}
		selected = append(selected, PrioritizedURL{
			URL:      c.url,
			Priority: c.class.Score,
			Category: CategoryAuth,
			Reason:   "authentication page retained",
		})
		have[c.url] = struct{}{}
		authCount++
	}
	return selected
}

// boostWishlist folds wishlist-matching pool URLs into the selection,
// displacing the lowest-priority non-wishlist entry when the budget is full.
func boostWishlist(selected []PrioritizedURL, pool []candidate, opts Options) []PrioritizedURL {
	if len(opts.Wishlist) == 0 {
		return selected
	}

	for i := range selected {
		if terms := matchWishlist(selected[i].URL, opts.Wishlist); len(terms) > 0 {
			selected[i].WishlistMatch = true
			selected[i].MatchedTerms = terms
		}
	}

	have := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		have[s.URL] = struct{}{}
	}

	for _, c := range pool {
		terms := matchWishlist(c.url, opts.Wishlist)
		if len(terms) == 0 {
			continue
		}
		if _, ok := have[c.url]; ok {
			continue
		}
		entry := PrioritizedURL{
			URL:           c.url,
			Priority:      c.class.Score,
			Category:      c.class.Category,
			Reason:        "wishlist match: " + strings.Join(terms, ", "),
			WishlistMatch: true,
			MatchedTerms:  terms,
		}
		if len(selected) < opts.MaxPages {
			selected = append(selected, entry)
			have[c.url] = struct{}{}
			continue
		}
		if idx := lowestNonWishlist(selected); idx >= 0 {
			delete(have, selected[idx].URL)
			selected[idx] = entry
			have[c.url] = struct{}{}
		}
	}
	return selected
}

func lowestNonWishlist(selected []PrioritizedURL) int {
	idx := -1
	for i, s := range selected {
		if s.WishlistMatch || s.Category == CategoryAuth {
			continue
		}
		if idx < 0 || s.Priority < selected[idx].Priority {
			idx = i
		}
	}
	return idx
}

func matchWishlist(u string, wishlist []string) []string {
	lower := strings.ToLower(u)
	var matched []string
	for _, term := range wishlist {
		needle := strings.ToLower(strings.TrimSpace(term))
		if needle == "" {
			continue
		}
		// Phrases match on any individual word to survive URL slugging.
		for _, word := range strings.Fields(needle) {
			if len(word) >= 3 && strings.Contains(lower, word) {
				matched = append(matched, term)
				break
			}
		}
	}
	return matched
}

// padUnderSelection appends pattern-ranked URLs when the model materially
// under-selected. The floor is configurable rather than hard-coded.
func padUnderSelection(selected []PrioritizedURL, pool []candidate, opts Options) []PrioritizedURL {
	floor := opts.MinLLMSelection
	if len(pool) < floor {
		floor = len(pool)
	}
	if len(selected) >= floor && len(selected) >= opts.MaxPages {
		return selected
	}
	if len(selected) >= floor {
		return selected
	}

	have := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		have[s.URL] = struct{}{}
	}
	for _, p := range patternSelect(pool, len(pool)) {
		if len(selected) >= opts.MaxPages {
			break
		}
		if _, ok := have[p.URL]; ok {
			continue
		}
		selected = append(selected, p)
		have[p.URL] = struct{}{}
	}
	return selected
}
