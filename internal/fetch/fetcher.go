// Package fetch performs HTTP requests for source adapters with per-host rate
// limiting, robots.txt checks and bounded retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/util"
	"github.com/ppiankov/lodeclaim/internal/worker"
)

const maxRedirects = 5

// fetchSleepFunc waits between retries (injectable for tests).
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Request describes one logical fetch. It may be attempted several times.
type Request struct {
	SourceID    string
	Method      string
	URL         string
	Form        url.Values // POST body, form-encoded
	Header      http.Header
	CheckRobots bool
}

// Response is a successful fetch.
type Response struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string
	Attempts    int
	RetrievedAt time.Time
}

// Fetcher performs requests on behalf of adapters.
type Fetcher struct {
	httpClient  *http.Client
	userAgent   string
	maxBytes    int64
	maxRetries  int
	backoffBase time.Duration
	limiter     *worker.Limiter
	robots      *util.RobotsChecker
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter shares a per-host limiter across fetchers.
func WithLimiter(l *worker.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithClock overrides the clock used for RetrievedAt.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher. The client keeps cookies so form-based report
// systems can hold a session across the GET and POST of a query.
func New(httpCfg model.HTTPConfig, fetchCfg model.FetchConfig, opts ...Option) *Fetcher {
	jar, _ := cookiejar.New(nil)

	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: httpCfg.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent:   httpCfg.UserAgent,
		maxBytes:    httpCfg.MaxBodyBytes,
		maxRetries:  fetchCfg.MaxRetries,
		backoffBase: fetchCfg.BackoffBase,
		logger:      slog.Default(),
		now:         time.Now,
	}
	if f.maxBytes <= 0 {
		f.maxBytes = 50 << 20
	}
	if f.maxRetries < 0 {
		f.maxRetries = 0
	}
	if f.backoffBase <= 0 {
		f.backoffBase = time.Second
	}

	for _, opt := range opts {
		opt(f)
	}
	if f.limiter == nil {
		f.limiter = worker.NewLimiter(0, 1)
	}
	if httpCfg.RespectRobots {
		f.robots = util.NewRobotsChecker(f.httpClient, f.userAgent, f.logger)
	}

	return f
}

// Do performs req, retrying transient failures with exponential backoff.
// Failures are returned as *model.SourceError.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if req.CheckRobots && f.robots != nil {
		if err := f.checkRobots(ctx, req); err != nil {
			return nil, err
		}
	}

	var lastErr *model.SourceError
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoffBase * time.Duration(1<<(attempt-1))
			f.logger.Debug("retrying fetch",
				"source", req.SourceID, "url", req.URL,
				"attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := fetchSleepFunc(ctx, delay); err != nil {
				lastErr.Retryable = false
				break
			}
		}

		resp, err := f.doOnce(ctx, req)
		if err == nil {
			resp.Attempts = attempt + 1
			return resp, nil
		}
		err.Attempts = attempt + 1
		lastErr = err

		if !err.Retryable || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (f *Fetcher) checkRobots(ctx context.Context, req Request) error {
	decision, err := f.robots.Check(ctx, req.URL)
	if err != nil {
		return &model.SourceError{SourceID: req.SourceID, Kind: model.FetchUnreachable, Err: err}
	}
	if !decision.Allowed {
		return &model.SourceError{
			SourceID: req.SourceID,
			Kind:     model.FetchAuthRequired,
			Err:      errors.New("disallowed by robots.txt"),
		}
	}
	if decision.CrawlDelay > 0 {
		if host, err := hostOf(req.URL); err == nil {
			f.limiter.ApplyCrawlDelay(host, decision.CrawlDelay)
			f.logger.Debug("honouring crawl-delay", "host", host, "delay", decision.CrawlDelay, "rate", float64(f.limiter.HostRate(host)))
		}
	}
	return nil
}

func (f *Fetcher) doOnce(ctx context.Context, req Request) (*Response, *model.SourceError) {
	fail := func(kind model.FetchErrorKind, status int, retryable bool, err error) *model.SourceError {
		return &model.SourceError{
			SourceID:   req.SourceID,
			Kind:       kind,
			StatusCode: status,
			Retryable:  retryable,
			Err:        err,
		}
	}

	if err := f.limiter.Wait(ctx, req.URL); err != nil {
		return nil, fail(model.FetchUnreachable, 0, false, fmt.Errorf("rate limit: %w", err))
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fail(model.FetchUnreachable, 0, false, fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fail(model.FetchUnreachable, 0, false, ctx.Err())
		}
		return nil, fail(model.FetchUnreachable, 0, true, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind, retryable := classifyStatus(resp.StatusCode)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fail(kind, resp.StatusCode, retryable, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fail(model.FetchUnreachable, resp.StatusCode, false, ctx.Err())
		}
		return nil, fail(model.FetchUnreachable, resp.StatusCode, true, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fail(model.FetchMalformedResponse, resp.StatusCode, false,
			fmt.Errorf("body exceeds %d bytes", f.maxBytes))
	}

	return &Response{
		Body:        data,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		RetrievedAt: f.now().UTC(),
	}, nil
}

// classifyStatus maps a non-2xx status to an error kind and retryability.
func classifyStatus(code int) (model.FetchErrorKind, bool) {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusProxyAuthRequired:
		return model.FetchAuthRequired, false
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return model.FetchUnreachable, true
	case code >= 500:
		return model.FetchUnreachable, true
	default:
		return model.FetchUnreachable, false
	}
}

func hostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}
