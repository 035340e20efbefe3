// Package crawler walks a page and the scripts it references, depth first,
// and runs every script body it finds through a detector.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"cryptoscan/extract"
	"cryptoscan/logging"
	"cryptoscan/models"
	"cryptoscan/results"
	"cryptoscan/telemetry"
	"cryptoscan/utils"
)

const (
	MinDepth = 1
	MaxDepth = 3

	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 5 << 20
)

// Scanner is the part of the detector the crawler needs.
type Scanner interface {
	Detect(code, source string) ([]models.Match, []*models.PatternError)
}

type Options struct {
	UserAgent    string
	Timeout      time.Duration
	RateLimit    float64 // requests per second, <= 0 means unlimited
	RateBurst    int
	MaxBodyBytes int64
}

type Crawler struct {
	scanner   Scanner
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// Result is everything one crawl found.
type Result struct {
	Matches []models.Match
	Visited int
	Stats   models.CrawlStats
}

func New(scanner Scanner, opts Options, logger *slog.Logger, metrics *telemetry.Metrics) *Crawler {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	return &Crawler{
		scanner: scanner,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(limit, opts.RateBurst),
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		logger:    logger,
		metrics:   metrics,
	}
}

// InlineSource is the source tag for inline scripts of pageURL.
func InlineSource(pageURL string) string { return "inline:" + pageURL }

// ExternalSource is the source tag for the script at scriptURL.
func ExternalSource(scriptURL string) string { return "external:" + scriptURL }

// crawlState is owned by one Crawl call and passed down the recursion.
type crawlState struct {
	maxDepth int
	visited  map[string]bool
	scanned  map[string]bool
	matches  []models.Match
	stats    models.CrawlStats
}

// Crawl fetches startURL, detects in its inline scripts and its external .js
// scripts, and recurses into each script at depth+1 up to maxDepth. Fetch
// failures are logged and only abandon their branch.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxDepth int) (*Result, error) {
	if maxDepth < MinDepth || maxDepth > MaxDepth {
		return nil, fmt.Errorf("%w: depth %d outside %d..%d", models.ErrInvalidFormat, maxDepth, MinDepth, MaxDepth)
	}
	startURL = strings.TrimSpace(startURL)
	if !utils.IsCrawlableURL(startURL) {
		return nil, fmt.Errorf("%w: %q is not an http(s) URL", models.ErrInvalidFormat, startURL)
	}

	start := time.Now()
	state := &crawlState{
		maxDepth: maxDepth,
		visited:  make(map[string]bool),
		scanned:  make(map[string]bool),
	}
	c.logger.Info("crawl started", "url", startURL, "max_depth", maxDepth)

	c.visit(ctx, state, models.CrawlNode{URL: startURL, Depth: 1}, nil)

	matches := results.Deduplicate(state.matches)
	state.stats.URLsVisited = len(state.visited)
	state.stats.Matches = len(matches)
	state.stats.Duration = time.Since(start)

	c.logger.Info("crawl finished",
		"url", startURL,
		"visited", state.stats.URLsVisited,
		"matches", len(matches),
		"errors", state.stats.Errors,
		"duration", state.stats.Duration,
	)

	res := &Result{Matches: matches, Visited: len(state.visited), Stats: state.stats}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: crawl interrupted: %v", models.ErrNetwork, err)
	}
	return res, nil
}

// visit handles one crawl node. body is the already fetched content when the
// node is a script that was downloaded for detection by its parent.
func (c *Crawler) visit(ctx context.Context, state *crawlState, node models.CrawlNode, body []byte) {
	pageURL := node.URL
	if node.Depth > state.maxDepth || state.visited[pageURL] {
		if node.Depth > state.maxDepth {
			state.stats.PagesSkipped++
		}
		return
	}
	state.visited[pageURL] = true
	if ctx.Err() != nil {
		return
	}
	c.logger.Info("crawling", "url", pageURL, "depth", node.Depth, "parent", node.Parent)

	if body == nil {
		fetched, err := c.fetch(ctx, pageURL)
		if err != nil {
			state.stats.Errors++
			c.logger.Warn("page fetch failed", "url", pageURL, "error", err)
			return
		}
		body = fetched
		state.stats.PagesFetched++
		state.stats.TotalSize += int64(len(body))
	}
	markup := string(body)

	if code := extract.ExtractScripts(markup); code != "" {
		c.logger.Debug("inline scripts extracted", "url", pageURL, "bytes", len(code))
		found, _ := c.scanner.Detect(code, InlineSource(pageURL))
		state.matches = append(state.matches, found...)
	}

	srcs := extract.ScriptSources(markup)
	c.logger.Debug("external scripts found", "url", pageURL, "count", len(srcs))
	for _, src := range srcs {
		scriptURL := utils.ResolveURL(pageURL, src)
		if scriptURL == "" || !utils.IsScriptURL(scriptURL) || state.visited[scriptURL] {
			continue
		}
		if state.scanned[scriptURL] {
			// already detected from another page; only the crawl node is left
			c.visit(ctx, state, models.CrawlNode{URL: scriptURL, Depth: node.Depth + 1, Parent: pageURL}, nil)
			continue
		}

		script, err := c.fetch(ctx, scriptURL)
		if err != nil {
			state.stats.Errors++
			c.logger.Warn("script fetch failed", "url", scriptURL, "error", err)
			continue
		}
		state.scanned[scriptURL] = true
		state.stats.ScriptsFetched++
		state.stats.TotalSize += int64(len(script))

		found, _ := c.scanner.Detect(string(script), ExternalSource(scriptURL))
		state.matches = append(state.matches, found...)

		c.visit(ctx, state, models.CrawlNode{URL: scriptURL, Depth: node.Depth + 1, Parent: pageURL}, script)
	}
}

// fetch GETs rawURL and returns at most maxBody bytes of its body decoded to
// UTF-8. Non-2xx responses are errors.
func (c *Crawler) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNetwork, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/javascript,*/*;q=0.8")

	host := attribute.String("host", req.URL.Host)
	c.metrics.Fetches.Add(ctx, 1, metric.WithAttributes(host))

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.FetchFailures.Add(ctx, 1, metric.WithAttributes(host))
		return nil, fmt.Errorf("%w: %v", models.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.FetchFailures.Add(ctx, 1, metric.WithAttributes(host))
		return nil, fmt.Errorf("%w: GET %s: %s", models.ErrNetwork, rawURL, resp.Status)
	}

	reader := decodeBody(io.LimitReader(resp.Body, c.maxBody), resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(reader)
	if err != nil {
		c.metrics.FetchFailures.Add(ctx, 1, metric.WithAttributes(host))
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrNetwork, rawURL, err)
	}

	c.logger.Debug("fetched", "url", rawURL, "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))
	return body, nil
}

// decodeBody converts a body with a declared non-UTF-8 charset to UTF-8.
// Undeclared bodies are read as they are.
func decodeBody(body io.Reader, contentType string) io.Reader {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	label := strings.ToLower(strings.TrimSpace(params["charset"]))
	if label == "" || label == "utf-8" || label == "utf8" {
		return body
	}
	decoded, err := charset.NewReaderLabel(label, body)
	if err != nil {
		return body
	}
	return decoded
}
