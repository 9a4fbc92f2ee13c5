// Package fetcher retrieves and parses tier-1 structured sources (CSV, JSON,
// XLSX over HTTP or FTP) and tier-3 RSS legislative feeds, applying bounds
// and date sanity checks before anything is accepted.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/laborwatch/compliance-cli/internal/resilience"
)

// HTTPOptions configures the shared HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	Retry        resilience.RetryConfig
	RateLimiters map[string]*rate.Limiter // per host; missing hosts get the default
}

// defaultLimit applies to hosts without an explicit limiter. Government feed
// servers are slow but tolerant; 10 rps is polite without dragging a cycle.
const (
	defaultLimit rate.Limit = 10
	defaultBurst            = 10
)

// HTTPFetcher downloads source payloads with per-host token-bucket rate
// limiting and transient-error retry.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "compliance-cli/1.0"
	}
	limiters := make(map[string]*rate.Limiter)
	for host, lim := range opts.RateLimiters {
		limiters[host] = lim
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: limiters,
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(defaultLimit, defaultBurst)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(defaultLimit, defaultBurst)
		f.limiters[u.Host] = lim
	}
	return lim
}

// Get downloads the URL body, waiting on the host's rate limiter and
// retrying transient failures with backoff.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return resilience.Retry(ctx, f.opts.Retry, "http get "+rawURL, func(ctx context.Context) ([]byte, error) {
		if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: http get"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("fetcher: http %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				zap.L().Warn("transient http status",
					zap.String("url", rawURL),
					zap.Int("status", resp.StatusCode),
				)
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), 0)
		}
		return body, nil
	})
}
