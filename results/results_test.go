package results

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptoscan/models"
)

func sample() []models.Match {
	return []models.Match{
		{Algorithm: "MD5", Source: "a.js", Line: 1, Match: "createHash('md5')", Context: "Line 1: createHash('md5')"},
		{Algorithm: "AES", Source: "a.js", Line: 4, Match: "aes", Context: "Line 4: aes"},
		{Algorithm: "MD5", Source: "b.js", Line: 2, Match: "md5", Context: "Line 2: md5"},
	}
}

func TestDeduplicateKeepsFirst(t *testing.T) {
	in := []models.Match{
		{Algorithm: "MD5", Source: "a.js", Line: 1, Match: "createHash('md5')"},
		{Algorithm: "MD5", Source: "a.js", Line: 1, Match: "md5"},
		{Algorithm: "MD5", Source: "a.js", Line: 2, Match: "md5"},
		{Algorithm: "SHA-1", Source: "a.js", Line: 1, Match: "sha1"},
	}
	got := Deduplicate(in)
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].Match != "createHash('md5')" {
		t.Fatalf("first record replaced: %+v", got[0])
	}

	seen := map[models.MatchKey]bool{}
	for _, m := range got {
		if seen[m.Key()] {
			t.Fatalf("duplicate key %+v", m.Key())
		}
		seen[m.Key()] = true
	}
	if again := Deduplicate(got); len(again) != len(got) {
		t.Fatal("deduplicate is not idempotent")
	}
}

func TestGroupByAlgorithm(t *testing.T) {
	groups := GroupByAlgorithm(sample())
	if len(groups) != 2 {
		t.Fatalf("got %d groups", len(groups))
	}
	if groups[0].Algorithm != "MD5" || len(groups[0].Matches) != 2 {
		t.Fatalf("first group = %+v", groups[0])
	}
	if groups[1].Algorithm != "AES" || len(groups[1].Matches) != 1 {
		t.Fatalf("second group = %+v", groups[1])
	}
	if GroupByAlgorithm(nil) != nil {
		t.Fatal("expected no groups for no records")
	}
}

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s := NewSink(t.TempDir(), "", 0, nil, nil)
	s.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	return s
}

func TestPersistNumbersFiles(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	first, err := s.Persist(ctx, sample())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Persist(ctx, sample())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "key.json" || filepath.Base(second) != "key_1.json" {
		t.Fatalf("files = %s, %s", first, second)
	}

	session, err := LoadSession(second)
	if err != nil {
		t.Fatal(err)
	}
	if session.Timestamp != "2024-03-01 12:30:00" || session.Count != 3 || len(session.Results) != 3 {
		t.Fatalf("session = %+v", session)
	}
	if session.Results[0].Match != "createHash('md5')" {
		t.Fatalf("record changed on round trip: %+v", session.Results[0])
	}
}

func TestPersistDoesNotEscapeHTML(t *testing.T) {
	s := newTestSink(t)
	path, err := s.Persist(context.Background(), []models.Match{{Algorithm: "X", Source: "<inline>", Line: 1, Match: "a&b"}})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "<inline>") || !strings.Contains(string(data), "a&b") {
		t.Fatalf("escaped output:\n%s", data)
	}
}

func TestPersistEmpty(t *testing.T) {
	s := newTestSink(t)
	if _, err := s.Persist(context.Background(), nil); !errors.Is(err, models.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	entries, _ := os.ReadDir(s.Dir)
	if len(entries) != 0 {
		t.Fatalf("empty persist wrote %d files", len(entries))
	}
}

func TestPersistExhausted(t *testing.T) {
	s := newTestSink(t)
	s.MaxAttempts = 2
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Persist(ctx, sample()); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}
	if _, err := s.Persist(ctx, sample()); !errors.Is(err, models.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestPersistMissingDir(t *testing.T) {
	s := newTestSink(t)
	s.Dir = filepath.Join(s.Dir, "missing")
	if _, err := s.Persist(context.Background(), sample()); !errors.Is(err, models.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

type recorderFunc func(ctx context.Context, file string, session *models.Session) error

func (f recorderFunc) RecordSession(ctx context.Context, file string, session *models.Session) error {
	return f(ctx, file, session)
}

func TestPersistRecorder(t *testing.T) {
	s := newTestSink(t)
	var recorded []string
	s.Recorder = recorderFunc(func(_ context.Context, file string, session *models.Session) error {
		recorded = append(recorded, file)
		return errors.New("archive down")
	})

	path, err := s.Persist(context.Background(), sample())
	if err != nil {
		t.Fatalf("archive failure must not fail persist: %v", err)
	}
	if len(recorded) != 1 || recorded[0] != path {
		t.Fatalf("recorded = %v", recorded)
	}
}

func TestLoadSessionErrors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
		want    error
	}{
		{"syntax", "{\n  \"timestamp\": \"x\",\n  \"count\": ,\n}", models.ErrParse},
		{"not object", `[1, 2]`, models.ErrSchema},
		{"missing results", `{"timestamp": "x", "count": 1}`, models.ErrSchema},
		{"wrong type", `{"timestamp": "x", "count": "one", "results": []}`, models.ErrSchema},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadSession(path)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := LoadSession(filepath.Join(dir, "nope.json")); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadSessionParseLocation(t *testing.T) {
	data := []byte("{\n  \"timestamp\": \"x\",\n  \"count\": ,\n}")
	_, err := DecodeSession(data, "s.json")
	var pe *models.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T %v", err, err)
	}
	if pe.Line != 3 {
		t.Fatalf("line = %d", pe.Line)
	}
	if !strings.Contains(pe.Snippet, "\"count\"") || !strings.HasSuffix(pe.Snippet, "^") {
		t.Fatalf("snippet:\n%s", pe.Snippet)
	}
}

func TestList(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()
	first, _ := s.Persist(ctx, sample())
	second, _ := s.Persist(ctx, sample()[:1])

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(first, old, old); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(s.Dir, "other.json"), []byte(`{}`), 0o644)
	os.WriteFile(filepath.Join(s.Dir, "key_x.json"), []byte(`{}`), 0o644)

	sessions, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions: %+v", len(sessions), sessions)
	}
	if sessions[0].File != second || sessions[0].Count != 1 {
		t.Fatalf("newest = %+v", sessions[0])
	}
	if sessions[1].File != first || sessions[1].Count != 3 {
		t.Fatalf("oldest = %+v", sessions[1])
	}
}

func TestSessionJSONKeys(t *testing.T) {
	s := newTestSink(t)
	path, _ := s.Persist(context.Background(), sample())
	data, _ := os.ReadFile(path)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"timestamp", "count", "results"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}
