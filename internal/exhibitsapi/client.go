// Package exhibitsapi is a typed client for the external exhibits REST API:
// search, record fetch, and the lock/unlock calls behind the editor.
package exhibitsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/exhibitdesk/internal/version"
	"github.com/HerbHall/exhibitdesk/pkg/lock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Kind names an editable record type.
type Kind string

// Record kinds served by the API.
const (
	KindExhibit  Kind = "exhibit"
	KindHeading  Kind = "heading"
	KindTimeline Kind = "timeline"
	KindItem     Kind = "item"
	KindMedia    Kind = "media"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindExhibit, KindHeading, KindTimeline, KindItem, KindMedia}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// collection returns the URL segment for k.
func (k Kind) collection() string {
	if k == KindMedia {
		return "media"
	}
	return string(k) + "s"
}

// Summary is one search hit.
type Summary struct {
	UUID      string    `json:"uuid"`
	Title     string    `json:"title"`
	Kind      Kind      `json:"kind,omitempty"`
	IsLocked  lock.Flag `json:"is_locked"`
	Published lock.Flag `json:"is_published"`
	UpdatedAt string    `json:"updated,omitempty"`
}

// Record is a full editable record.
type Record struct {
	lock.Record
	UUID   string          `json:"uuid"`
	Title  string          `json:"title"`
	Kind   Kind            `json:"kind,omitempty"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client talks to the exhibits API. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Client.
func New(opts Options, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("exhibitsapi: invalid base url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

type tokenKey struct{}

// WithToken attaches the caller's bearer token to ctx; requests made with
// that context forward it to the API.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// Search returns the records of kind matching query.
func (c *Client) Search(ctx context.Context, kind Kind, query string) ([]Summary, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	var out []Summary
	if err := c.do(ctx, http.MethodGet, kind.collection(), q, &out); err != nil {
		return nil, fmt.Errorf("search %s: %w", kind, err)
	}
	for i := range out {
		if out[i].Kind == "" {
			out[i].Kind = kind
		}
	}
	if out == nil {
		out = []Summary{}
	}
	return out, nil
}

// Get fetches one record including its lock fields.
func (c *Client) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodGet, kind.collection()+"/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, fmt.Errorf("get %s %q: %w", kind, id, err)
	}
	if rec.Kind == "" {
		rec.Kind = kind
	}
	return &rec, nil
}

// Lock asks the API to lock the record for the token's user.
func (c *Client) Lock(ctx context.Context, kind Kind, id string) error {
	if err := c.do(ctx, http.MethodPost, kind.collection()+"/"+url.PathEscape(id)+"/lock", nil, nil); err != nil {
		return fmt.Errorf("lock %s %q: %w", kind, id, err)
	}
	return nil
}

// Unlock releases the record's lock.
func (c *Client) Unlock(ctx context.Context, kind Kind, id string) error {
	if err := c.do(ctx, http.MethodDelete, kind.collection()+"/"+url.PathEscape(id)+"/lock", nil, nil); err != nil {
		return fmt.Errorf("unlock %s %q: %w", kind, id, err)
	}
	return nil
}

// Ping checks that the API answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return mapTransport(err)
	}

	u := *c.base
	u.Path = c.base.Path + "/" + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if token, ok := ctx.Value(tokenKey{}).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("exhibits api request failed",
			zap.String("method", method),
			zap.String("path", u.Path),
			zap.Error(err),
		)
		return mapTransport(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("exhibits api request",
		zap.String("method", method),
		zap.String("path", u.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return mapStatus(resp.StatusCode, errorMessage(body, resp.Status))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts a human message from an error body, accepting
// {"message": ...}, {"detail": ...}, or plain text.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}
