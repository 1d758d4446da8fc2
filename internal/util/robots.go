package util

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"time"

	"github.com/temoto/robotstxt"
)

// RobotsDecision is the robots.txt verdict for one URL.
type RobotsDecision struct {
	Allowed    bool
	CrawlDelay time.Duration
}

// RobotsChecker checks robots.txt before scraping report pages and archives.
// Results are cached per host for the lifetime of the checker (one run).
type RobotsChecker struct {
	cache      map[string]*robotstxt.RobotsData
	mu         sync.RWMutex
	httpClient *http.Client
	userAgent  string
	agentToken string
	logger     *slog.Logger
}

// NewRobotsChecker creates a checker that fetches robots.txt through client.
func NewRobotsChecker(client *http.Client, userAgent string, logger *slog.Logger) *RobotsChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsChecker{
		cache:      make(map[string]*robotstxt.RobotsData),
		httpClient: client,
		userAgent:  userAgent,
		agentToken: NormalizeUserAgent(userAgent),
		logger:     logger,
	}
}

// Check returns whether rawURL may be fetched. An unreachable robots.txt allows the fetch.
func (r *RobotsChecker) Check(ctx context.Context, rawURL string) (RobotsDecision, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return RobotsDecision{}, fmt.Errorf("parse URL: %w", err)
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)

	data, err := r.robotsData(ctx, parsed.Host, robotsURL)
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing fetch", "host", parsed.Host, "error", err)
		return RobotsDecision{Allowed: true}, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}

	decision := RobotsDecision{Allowed: data.TestAgent(path, r.agentToken)}
	if group := data.FindGroup(r.agentToken); group != nil {
		decision.CrawlDelay = group.CrawlDelay
	}
	return decision, nil
}

func (r *RobotsChecker) robotsData(ctx context.Context, host, robotsURL string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.mu.Lock()
	r.cache[host] = data
	r.mu.Unlock()

	return data, nil
}

// NormalizeUserAgent reduces a User-Agent to the product token robots.txt groups match on.
func NormalizeUserAgent(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) > 0 {
		return strings.Split(parts[0], "/")[0]
	}
	return ua
}
