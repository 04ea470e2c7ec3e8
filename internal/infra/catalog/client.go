// Package catalog is the HTTP boundary to the Civitai metadata service.
// It exposes a single operation, resolving a content hash to a
// model-version record, with timeout, in-flight, and rate-limit handling.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/civisync/civisync/internal/domain"
	"github.com/civisync/civisync/internal/infra/metrics"
)

const (
	// DefaultBaseURL is the public Civitai REST API root.
	DefaultBaseURL = "https://civitai.com/api/v1"

	userAgent = "CiviSync/0.1.0"
)

// Options configures a Client.
type Options struct {
	BaseURL     string        // API root; DefaultBaseURL if empty
	Token       string        // Opaque bearer token; optional
	Timeout     time.Duration // Per-request ceiling; a call never blocks longer
	MaxInFlight int           // Concurrent request budget
	MinInterval time.Duration // Minimum spacing between requests
}

// Client resolves content hashes against the catalog. Safe for concurrent
// use; the limiter and in-flight budget are shared across all callers.
type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	slots   chan struct{} // In-flight budget semaphore
}

// New creates a Client. Zero option fields get conservative defaults.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: opts.Timeout,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		slots:   make(chan struct{}, opts.MaxInFlight),
	}
}

// RateLimitError is a transient error carrying the server's Retry-After
// hint. errors.Is(err, domain.ErrTransient) holds for it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("catalog rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrTransient }

// versionResponse mirrors the subset of the by-hash response we consume.
// The remote shape is dynamic; validation into this explicit struct happens
// here at the boundary and nowhere else.
type versionResponse struct {
	ID           int64    `json:"id"`
	ModelID      int64    `json:"modelId"`
	Name         string   `json:"name"`
	BaseModel    string   `json:"baseModel"`
	TrainedWords []string `json:"trainedWords"`
	Description  string   `json:"description"`
}

// Resolve looks hash up via GET /model-versions/by-hash/{autoV2}.
//
// Error mapping: 404 → domain.ErrNotFound, 429/5xx/timeout/network →
// domain.ErrTransient, any other 4xx → domain.ErrPermanent.
func (c *Client) Resolve(ctx context.Context, hash domain.ContentHash) (*domain.CatalogRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate wait: %v: %w", err, domain.ErrTransient)
	}

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return nil, fmt.Errorf("request budget: %v: %w", ctx.Err(), domain.ErrTransient)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.base + "/model-versions/by-hash/" + hash.AutoV2()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, domain.ErrPermanent)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures are all retryable.
		return nil, fmt.Errorf("catalog request: %v: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()
	metrics.ResolveLatency.Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RateLimited.Inc()
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("catalog returned %d: %w", resp.StatusCode, domain.ErrTransient)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog returned %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrPermanent)
	}

	var vr versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode catalog response: %v: %w", err, domain.ErrPermanent)
	}
	if vr.ID == 0 {
		return nil, fmt.Errorf("catalog response missing version id: %w", domain.ErrPermanent)
	}

	return &domain.CatalogRecord{
		VersionID:    vr.ID,
		ModelID:      vr.ModelID,
		Name:         vr.Name,
		BaseModel:    vr.BaseModel,
		TrainedWords: vr.TrainedWords,
		Description:  stripHTML(vr.Description),
	}, nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
// Returns 0 when the header is absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// stripHTML reduces the catalog's HTML description to plain text. Sidecars
// hold prose, not markup. Tags are dropped, block tags become newlines,
// entities common in descriptions are unescaped.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') && !strings.ContainsRune(s, '&') {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '<':
			inTag = true
			if tag := tagNameAt(s, i+1); tag == "p" || tag == "br" || tag == "/p" || tag == "li" {
				b.WriteByte('\n')
			}
		case s[i] == '>':
			inTag = false
		case !inTag:
			b.WriteByte(s[i])
		}
	}

	out := b.String()
	for entity, repl := range map[string]string{
		"&amp;": "&", "&lt;": "<", "&gt;": ">", "&quot;": `"`, "&#39;": "'", "&nbsp;": " ",
	} {
		out = strings.ReplaceAll(out, entity, repl)
	}
	return strings.TrimSpace(out)
}

func tagNameAt(s string, i int) string {
	j := i
	if j < len(s) && s[j] == '/' {
		j++ // closing tag, keep the slash in the returned name
	}
	for j < len(s) && s[j] != '>' && s[j] != ' ' && s[j] != '/' {
		j++
	}
	return strings.ToLower(s[i:j])
}

// RetryAfterOf extracts the Retry-After hint from err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
