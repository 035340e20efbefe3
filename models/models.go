// models/models.go
package models

import (
	"time"
)

// SessionTimeLayout is the timestamp format written into session files.
const SessionTimeLayout = "2006-01-02 15:04:05"

// Match is one deduplicated pattern hit.
type Match struct {
	Algorithm string `json:"algorithm"`
	Source    string `json:"source"`
	Line      int    `json:"line"`
	Match     string `json:"match"`
	Context   string `json:"context"`
}

// Key identifies a match for deduplication.
func (m Match) Key() MatchKey {
	return MatchKey{Algorithm: m.Algorithm, Source: m.Source, Line: m.Line}
}

type MatchKey struct {
	Algorithm string
	Source    string
	Line      int
}

// Session is a persisted snapshot of one detection run.
type Session struct {
	Timestamp string  `json:"timestamp"`
	Count     int     `json:"count"`
	Results   []Match `json:"results"`
}

// SessionSummary describes an archived session without its records.
type SessionSummary struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	Timestamp string    `json:"timestamp"`
	Count     int       `json:"count"`
	SavedAt   time.Time `json:"saved_at"`
}

type CrawlStats struct {
	URLsVisited    int           `json:"urls_visited"`
	PagesFetched   int           `json:"pages_fetched"`
	ScriptsFetched int           `json:"scripts_fetched"`
	PagesSkipped   int           `json:"pages_skipped"`
	Errors         int           `json:"errors"`
	Matches        int           `json:"matches"`
	TotalSize      int64         `json:"total_size"`
	Duration       time.Duration `json:"duration"`
}

// CrawlNode is one URL in the crawl graph and how it was reached.
type CrawlNode struct {
	URL    string
	Depth  int
	Parent string
}
