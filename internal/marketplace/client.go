package marketplace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
	"marketstats.shikanime.studio/internal/config"
	"marketstats.shikanime.studio/internal/metrics"
)

// NewLimiter returns a limiter allowing perMinute marketplace requests per minute.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := max(perMinute/10, 1)
	slog.Info("Created marketplace rate limiter", "rate", fmt.Sprintf("%d requests/minute", perMinute), "burst", burst)
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// Client queries the marketplace gallery API, with rate limiting, a circuit
// breaker and a per-publisher catalog cache.
type Client struct {
	hc    *http.Client
	url   string
	l     *rate.Limiter
	cache Cache
	cb    *gobreaker.CircuitBreaker[*QueryResponse]
}

// ClientOptions configures the marketplace client.
type ClientOptions struct {
	url     string
	hc      *http.Client
	limiter *rate.Limiter
	cache   Cache
}

// ClientOption applies a configuration to ClientOptions.
type ClientOption func(*ClientOptions)

// WithURL sets the extensionquery endpoint.
func WithURL(u string) ClientOption {
	return func(o *ClientOptions) { o.url = u }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *ClientOptions) { o.hc = hc }
}

// WithLimiter sets the rate limiter used for API calls.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(o *ClientOptions) { o.limiter = l }
}

// WithCache sets the publisher catalog cache.
func WithCache(c Cache) ClientOption {
	return func(o *ClientOptions) { o.cache = c }
}

// NewClientForConfig builds a Client from the marketplace settings of cfg.
func NewClientForConfig(cfg *config.Config) *Client {
	return NewClient(
		WithURL(cfg.GetMarketplaceURL()),
		WithHTTPClient(&http.Client{Timeout: cfg.GetMarketplaceTimeout()}),
		WithLimiter(NewLimiter(cfg.GetMarketplaceRateLimit())),
		WithCache(NewCache(DefaultCacheSize, cfg.GetMarketplaceCacheTTL())),
	)
}

// NewClient constructs a Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	o := ClientOptions{url: config.DefaultMarketplaceURL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hc == nil {
		o.hc = &http.Client{Timeout: 30 * time.Second}
	}
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if o.cache == nil {
		o.cache = NewCache(DefaultCacheSize, config.DefaultMarketplaceCacheTTL)
	}
	return &Client{
		hc:    o.hc,
		url:   o.url,
		l:     o.limiter,
		cache: o.cache,
		cb:    newBreaker("marketplace-api"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[*QueryResponse] {
	return gobreaker.NewCircuitBreaker[*QueryResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Marketplace circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// PublisherCatalog returns every extension published by publisher.
// Results are served from the cache when present.
func (c *Client) PublisherCatalog(ctx context.Context, publisher string) ([]Extension, error) {
	if exts, ok := c.cache.Get(publisher); ok {
		slog.DebugContext(ctx, "Publisher catalog served from cache", "publisher", publisher, "extensions", len(exts))
		return exts, nil
	}
	resp, err := c.query(ctx, publisher)
	if err != nil {
		return nil, err
	}
	exts := resp.Extensions()
	c.cache.Put(publisher, exts)
	slog.InfoContext(ctx, "Fetched publisher catalog from marketplace", "publisher", publisher, "extensions", len(exts))
	return exts, nil
}

// ExtensionDocument returns the descriptor of the extension identified by
// "publisher.extensionName", or nil when the marketplace does not know it.
func (c *Client) ExtensionDocument(ctx context.Context, id string) (*Extension, error) {
	publisher, _, ok := cutPublisher(id)
	if !ok {
		return nil, nil
	}
	exts, err := c.PublisherCatalog(ctx, publisher)
	if err != nil {
		return nil, err
	}
	return FindExtension(id, exts), nil
}

// Invalidate drops cached catalogs for publishers, or all of them when none is given.
func (c *Client) Invalidate(publishers ...string) {
	c.cache.Invalidate(publishers...)
	slog.Debug("Marketplace cache invalidated", "publishers", publishers)
}

func (c *Client) query(ctx context.Context, publisher string) (*QueryResponse, error) {
	tracer := otel.Tracer("marketstats/marketplace")
	ctx, span := tracer.Start(ctx, "Client.query")
	span.SetAttributes(attribute.String("publisher", publisher))
	defer span.End()
	if err := c.l.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	resp, err := c.cb.Execute(func() (*QueryResponse, error) {
		return c.do(ctx, newPublisherQuery(publisher))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GatewayRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.GatewayRequests.WithLabelValues("failure").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query marketplace for publisher %s: %w", publisher, err)
	}
	metrics.GatewayRequests.WithLabelValues("success").Inc()
	return resp, nil
}

func (c *Client) do(ctx context.Context, q queryRequest) (*QueryResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json;api-version=3.0-preview.1")
	req.Header.Set("excludeUrls", "true")
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", res.StatusCode, bytes.TrimSpace(msg))
	}
	var out QueryResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
