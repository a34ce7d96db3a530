// Package cms reads navigation, pages and media from the Strapi content API.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wingheights/wingsite"
	"github.com/wingheights/wingsite/internal/cache"
	"github.com/wingheights/wingsite/internal/config"
)

// maxResponseSize caps how much of a CMS body is read.
const maxResponseSize = 10 * 1024 * 1024

// staleFactor is how many TTLs a menu stays usable when the CMS is failing.
const staleFactor = 10

// mediaTTL is how long a looked-up upload record is reused.
const mediaTTL = 10 * time.Minute

// Client is a read-only client for the Strapi REST API.
type Client struct {
	base    string
	token   string
	menu    string
	navTTL  time.Duration
	timeout time.Duration
	http    *http.Client
	cache   cache.Cache
	breaker *CircuitBreaker
	flight  singleflight.Group
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCircuitBreaker replaces the default circuit breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// NewClient creates a client for the CMS at cfg.URL. The cache may be nil, in
// which case navigation is fetched on every call.
func NewClient(cfg config.CMSConfig, c cache.Cache, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		menu:    cfg.GetMenu(),
		navTTL:  cfg.GetNavigationTTL(),
		timeout: cfg.GetTimeout(),
		http:    &http.Client{Timeout: cfg.GetTimeout()},
		cache:   c,
		logger:  logger.Named("cms"),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.breaker == nil {
		client.breaker = NewCircuitBreaker("cms", CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.GetBreakerCooldown(),
		}, client.logger)
	}
	return client
}

// BaseURL returns the CMS origin that relative media URLs are resolved against.
func (c *Client) BaseURL() string {
	return c.base
}

// Navigation returns the flat navigation list of the configured menu.
// Responses are reused for the navigation TTL. When a refresh fails, the last
// good menu is served for up to ten TTLs.
func (c *Client) Navigation(ctx context.Context) ([]wingsite.NavigationItem, error) {
	endpoint := "/api/navigation/render/" + url.PathEscape(c.menu)
	query := url.Values{"type": {"FLAT"}}
	key := c.base + endpoint + "?" + query.Encode()

	var cached []byte
	if c.cache != nil {
		data, found, stale := c.cache.Get(key)
		if found && !stale {
			return decodeNavigation(data)
		}
		if found {
			cached = data
		}
	}

	body, err := c.sharedFetch(ctx, key, "navigation", endpoint, query)
	if err != nil {
		if cached != nil {
			c.logger.Warn("serving stale navigation", zap.Error(err))
			return decodeNavigation(cached)
		}
		return nil, err
	}

	items, err := decodeNavigation(body)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetWithStale(key, body, c.navTTL, staleFactor*c.navTTL)
	}
	return items, nil
}

// sharedFetch collapses concurrent GETs of the same key into one request.
// The request is detached from any single caller's cancellation, so one
// visitor leaving does not fail the others; each caller still stops waiting
// when its own ctx ends.
func (c *Client) sharedFetch(ctx context.Context, key, op, endpoint string, query url.Values) ([]byte, error) {
	ch := c.flight.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.get(fetchCtx, op, endpoint, query)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, &RequestError{Operation: op, URL: c.base + endpoint, Err: ctx.Err()}
	}
}

func decodeNavigation(body []byte) ([]wingsite.NavigationItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	var items []wingsite.NavigationItem
	if body[0] == '{' {
		var envelope struct {
			Data []wingsite.NavigationItem `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, &DecodeError{Operation: "navigation", Err: err}
		}
		return envelope.Data, nil
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &DecodeError{Operation: "navigation", Err: err}
	}
	return items, nil
}

// FindPage looks up the page for a URL path. Leading and trailing slashes are
// ignored and the empty path maps to the home slug. Candidates are tried in
// order: the full slug, its last segment, then its last two segments. The
// first matching record wins.
func (c *Client) FindPage(ctx context.Context, path string) (*wingsite.Page, error) {
	slug := strings.Trim(path, "/")
	if slug == "" {
		slug = wingsite.HomeSlug
	}

	for _, candidate := range slugCandidates(slug) {
		page, err := c.pageBySlug(ctx, candidate)
		if err != nil || page != nil {
			return page, err
		}
	}

	return nil, fmt.Errorf("%w: %s", wingsite.ErrPageNotFound, slug)
}

// slugCandidates returns slug, its last segment and its last two segments
// without duplicates.
func slugCandidates(slug string) []string {
	segments := strings.FieldsFunc(slug, func(r rune) bool { return r == '/' })
	out := []string{slug}
	add := func(s string) {
		if s == "" {
			return
		}
		for _, seen := range out {
			if seen == s {
				return
			}
		}
		out = append(out, s)
	}
	n := len(segments)
	if n == 0 {
		return out
	}
	add(segments[n-1])
	if n >= 2 {
		add(segments[n-2] + "/" + segments[n-1])
	}
	return out
}

func (c *Client) pageBySlug(ctx context.Context, slug string) (*wingsite.Page, error) {
	query := url.Values{}
	query.Set("filters[slug][$eq]", slug)
	query.Set("populate[content2][populate]", "*")
	body, err := c.get(ctx, "page", "/api/pages", query)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Operation: "page", Err: err}
	}
	if len(envelope.Data) == 0 {
		return nil, nil
	}

	page, err := wingsite.DecodePage(envelope.Data[0])
	if err != nil {
		return nil, &DecodeError{Operation: "page", Err: err}
	}
	if page.Slug == "" {
		page.Slug = slug
	}
	c.logger.Debug("page resolved", zap.String("slug", slug), zap.Int("blocks", len(page.Blocks)))
	return page, nil
}

// Media fetches an uploaded file by id. It is used for media fields that the
// CMS returned as a bare id.
func (c *Client) Media(ctx context.Context, id int) (wingsite.MediaFile, error) {
	endpoint := "/api/upload/files/" + strconv.Itoa(id)
	key := c.base + endpoint

	var body []byte
	if c.cache != nil {
		if data, found, _ := c.cache.Get(key); found {
			body = data
		}
	}
	if body == nil {
		data, err := c.get(ctx, "media", endpoint, nil)
		if err != nil {
			return wingsite.MediaFile{}, err
		}
		body = data
		if c.cache != nil {
			c.cache.Set(key, body, mediaTTL)
		}
	}

	var file wingsite.MediaFile
	if err := json.Unmarshal(body, &file); err != nil {
		return wingsite.MediaFile{}, &DecodeError{Operation: "media", Err: err}
	}
	if file.ID == 0 {
		file.ID = id
	}
	return file, nil
}

// get performs a GET through the circuit breaker and returns the body of a
// 2xx response.
func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values) ([]byte, error) {
	target := c.base + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &RequestError{Operation: op, URL: target, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &RequestError{Operation: op, URL: target, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, &HTTPError{
				Operation:  op,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       strings.TrimSpace(string(body)),
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, &RequestError{Operation: op, URL: target, Err: err}
		}

		c.logger.Debug("cms request",
			zap.String("op", op),
			zap.String("url", target),
			zap.Duration("took", time.Since(start)),
		)
		return body, nil
	})
}
