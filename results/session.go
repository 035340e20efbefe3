package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"cryptoscan/logging"
	"cryptoscan/models"
	"cryptoscan/telemetry"
)

const (
	DefaultBase        = "key"
	DefaultMaxAttempts = 1000
)

// Recorder receives every session the sink writes, e.g. a history database.
type Recorder interface {
	RecordSession(ctx context.Context, file string, session *models.Session) error
}

// Sink writes detection sessions as JSON files named base.json, base_1.json,
// base_2.json and so on inside Dir.
type Sink struct {
	Dir         string
	Base        string
	MaxAttempts int
	Now         func() time.Time
	Recorder    Recorder

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func NewSink(dir, base string, maxAttempts int, logger *slog.Logger, metrics *telemetry.Metrics) *Sink {
	if dir == "" {
		dir = "."
	}
	if base == "" {
		base = DefaultBase
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Sink{
		Dir:         dir,
		Base:        base,
		MaxAttempts: maxAttempts,
		Now:         time.Now,
		logger:      logger,
		metrics:     metrics,
	}
}

// Persist wraps records in a session and writes it to the first free file
// name. It returns the path written.
func (s *Sink) Persist(ctx context.Context, records []models.Match) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("%w: no results to save", models.ErrNoData)
	}

	session := &models.Session{
		Timestamp: s.Now().Format(models.SessionTimeLayout),
		Count:     len(records),
		Results:   records,
	}
	data, err := encodeSession(session)
	if err != nil {
		return "", fmt.Errorf("%w: encode session: %v", models.ErrIO, err)
	}

	f, path, err := s.create()
	if err != nil {
		return "", err
	}
	if err := writeAndClose(f, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: write %s: %v", models.ErrIO, path, err)
	}

	s.logger.Info("session saved", "file", path, "count", session.Count)
	s.metrics.SessionsSaved.Add(ctx, 1)

	if s.Recorder != nil {
		if err := s.Recorder.RecordSession(ctx, path, session); err != nil {
			s.logger.Warn("session archive failed", "file", path, "error", err)
		}
	}
	return path, nil
}

func (s *Sink) create() (*os.File, string, error) {
	for attempt := 0; attempt <= s.MaxAttempts; attempt++ {
		name := s.Base + ".json"
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.json", s.Base, attempt)
		}
		path := filepath.Join(s.Dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, "", fmt.Errorf("%w: create %s: %v", models.ErrIO, path, err)
	}
	return nil, "", fmt.Errorf("%w: %s.json through %s_%d.json all exist in %s",
		models.ErrResourceExhausted, s.Base, s.Base, s.MaxAttempts, s.Dir)
}

func writeAndClose(f *os.File, data []byte) error {
	_, err := f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeSession(session *models.Session) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(session); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// List returns the sessions in Dir, newest first by modification time.
func (s *Sink) List() ([]models.SessionSummary, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: session directory %s", models.ErrNotFound, s.Dir)
		}
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrIO, s.Dir, err)
	}

	nameRe := regexp.MustCompile(`^` + regexp.QuoteMeta(s.Base) + `(_\d+)?\.json$`)
	var sessions []models.SessionSummary
	for _, entry := range entries {
		if entry.IsDir() || !nameRe.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("session file vanished", "file", entry.Name(), "error", err)
			continue
		}
		summary := models.SessionSummary{
			File:    filepath.Join(s.Dir, entry.Name()),
			SavedAt: info.ModTime(),
		}
		if session, err := LoadSession(summary.File); err == nil {
			summary.Timestamp = session.Timestamp
			summary.Count = session.Count
		} else {
			s.logger.Debug("session file unreadable", "file", summary.File, "error", err)
		}
		sessions = append(sessions, summary)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SavedAt.After(sessions[j].SavedAt)
	})
	return sessions, nil
}

// LoadSession reads a session file written by Persist.
func LoadSession(path string) (*models.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrIO, path, err)
	}
	return DecodeSession(data, path)
}

// DecodeSession parses session JSON. Malformed text is a *models.ParseError;
// a missing or mistyped timestamp, count or results field wraps
// models.ErrSchema.
func DecodeSession(data []byte, source string) (*models.Session, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, models.JSONError(data, source, err)
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: session must be an object", models.ErrSchema, source)
	}
	for _, key := range []string{"timestamp", "count", "results"} {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("%w: %s: missing field %q", models.ErrSchema, source, key)
		}
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrSchema, source, err)
	}
	return &session, nil
}
