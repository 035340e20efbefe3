// Package detector runs the rule library over JavaScript text and reports
// where each algorithm's patterns hit.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cryptoscan/extract"
	"cryptoscan/logging"
	"cryptoscan/models"
	"cryptoscan/results"
	"cryptoscan/rules"
	"cryptoscan/telemetry"
)

// contextLines is how many lines either side of a hit go into its context.
const contextLines = 2

// maxMemoEntries bounds the per-generation memo of detected bodies.
const maxMemoEntries = 512

type memoKey struct {
	h1, h2 uint64
}

type memoEntry struct {
	matches []models.Match // Source left empty
	errs    []*models.PatternError
}

// Detector is the explicit context every scan runs in: the live rule store,
// compiled patterns, logger and metrics. It is not safe for concurrent use.
type Detector struct {
	store   *rules.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics

	compiled map[string]*regexp.Regexp
	memo     map[memoKey]memoEntry
	memoGen  uint64
}

func New(store *rules.Store, logger *slog.Logger, metrics *telemetry.Metrics) *Detector {
	if logger == nil {
		logger = logging.Discard()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Detector{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		compiled: make(map[string]*regexp.Regexp),
		memo:     make(map[memoKey]memoEntry),
		memoGen:  store.Generation(),
	}
}

// Store returns the rule store the detector reads from.
func (d *Detector) Store() *rules.Store {
	return d.store
}

// Detect strips comments from code and matches every pattern of every
// algorithm against it, case-insensitively. Records are deduplicated on
// (algorithm, source, line), keeping the first hit in rule order. A pattern
// that fails to compile is returned as an error and skipped.
func (d *Detector) Detect(code, source string) ([]models.Match, []*models.PatternError) {
	start := time.Now()
	ctx := context.Background()

	if gen := d.store.Generation(); gen != d.memoGen {
		d.memo = make(map[memoKey]memoEntry)
		d.memoGen = gen
	}

	h1, h2 := murmur3.Sum128([]byte(code))
	key := memoKey{h1, h2}
	if entry, ok := d.memo[key]; ok {
		matches := retag(entry.matches, source)
		d.logger.Debug("detect reused earlier result", "source", source, "matches", len(matches))
		d.metrics.RecordScan(ctx, "memo", len(matches), time.Since(start))
		return matches, entry.errs
	}

	cleaned := extract.StripComments(code)
	lines := strings.Split(cleaned, "\n")
	newlines := newlineOffsets(cleaned)

	var matches []models.Match
	var errs []*models.PatternError
	d.store.Each(func(algorithm string, patterns []string) {
		for i, pattern := range patterns {
			re, err := d.compile(pattern)
			if err != nil {
				perr := &models.PatternError{Algorithm: algorithm, Index: i + 1, Pattern: pattern, Err: err}
				errs = append(errs, perr)
				d.logger.Error("invalid pattern skipped", "algorithm", algorithm, "pattern", pattern, "error", err)
				d.metrics.PatternErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("algorithm", algorithm)))
				continue
			}

			hits := re.FindAllStringIndex(cleaned, -1)
			for _, loc := range hits {
				line := sort.SearchInts(newlines, loc[0]) + 1
				matches = append(matches, models.Match{
					Algorithm: algorithm,
					Source:    source,
					Line:      line,
					Match:     cleaned[loc[0]:loc[1]],
					Context:   contextBlock(lines, line),
				})
			}
			d.logger.Debug("pattern scanned", "algorithm", algorithm, "pattern", pattern, "hits", len(hits))
		}
	})

	matches = results.Deduplicate(matches)
	d.remember(key, matches, errs)

	d.logger.Info("detection finished", "source", source, "matches", len(matches))
	d.metrics.RecordScan(ctx, "code", len(matches), time.Since(start))
	return matches, errs
}

func (d *Detector) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := d.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	d.compiled[pattern] = re
	return re, nil
}

func (d *Detector) remember(key memoKey, matches []models.Match, errs []*models.PatternError) {
	if len(d.memo) >= maxMemoEntries {
		d.memo = make(map[memoKey]memoEntry)
	}
	d.memo[key] = memoEntry{matches: retag(matches, ""), errs: errs}
}

func retag(matches []models.Match, source string) []models.Match {
	if matches == nil {
		return nil
	}
	out := make([]models.Match, len(matches))
	for i, m := range matches {
		m.Source = source
		out[i] = m
	}
	return out
}

func newlineOffsets(s string) []int {
	var offs []int
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			offs = append(offs, i)
		}
	}
	return offs
}

// contextBlock renders lines line-2..line+2 (1-based, clipped to the text),
// skipping blank ones.
func contextBlock(lines []string, line int) string {
	from := max(1, line-contextLines)
	to := min(len(lines), line+contextLines)

	var parts []string
	for n := from; n <= to; n++ {
		text := strings.TrimSpace(lines[n-1])
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Line %d: %s", n, text))
	}
	return strings.Join(parts, "\n")
}
