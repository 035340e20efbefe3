package detector

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"cryptoscan/extract"
	"cryptoscan/models"
	"cryptoscan/rules"
)

func newDetector(t *testing.T, ruleJSON string) *Detector {
	t.Helper()
	store := rules.NewStore()
	if ruleJSON != "" {
		if err := store.Load([]byte(ruleJSON), "test.json"); err != nil {
			t.Fatal(err)
		}
	}
	return New(store, nil, nil)
}

func TestDetectCallSignature(t *testing.T) {
	d := newDetector(t, "")
	matches, errs := d.Detect(`const h = require('crypto').createHash('md5')`, "a.js")
	if len(errs) != 0 {
		t.Fatalf("pattern errors: %v", errs)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches: %+v", len(matches), matches)
	}
	m := matches[0]
	if m.Algorithm != "MD5" || m.Source != "a.js" || m.Line != 1 {
		t.Fatalf("match = %+v", m)
	}
	if !strings.Contains(strings.ToLower(m.Match), "createhash('md5')") {
		t.Fatalf("match text = %q", m.Match)
	}
}

func TestDetectInlineScript(t *testing.T) {
	d := newDetector(t, "")
	code := extract.ExtractScripts(`<script>var x = btoa('hi')</script>`)
	if code != "var x = btoa('hi')" {
		t.Fatalf("extracted %q", code)
	}
	matches, _ := d.Detect(code, "page.html")
	if len(matches) != 1 || matches[0].Algorithm != "Base64" || matches[0].Line != 1 {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestDetectLineAndContext(t *testing.T) {
	d := newDetector(t, `{"AES": ["aes-256"]}`)
	code := "let a = 1;\n\nlet b = 2;\nconst c = crypto.createCipheriv('AES-256-cbc', k, iv);\nlet d = 4;\nlet e = 5;\nlet f = 6;"
	matches, _ := d.Detect(code, "x.js")
	if len(matches) != 1 {
		t.Fatalf("matches = %+v", matches)
	}
	m := matches[0]
	if m.Line != 4 || m.Match != "AES-256" {
		t.Fatalf("match = %+v", m)
	}
	want := "Line 3: let b = 2;\nLine 4: const c = crypto.createCipheriv('AES-256-cbc', k, iv);\nLine 5: let d = 4;\nLine 6: let e = 5;"
	if m.Context != want {
		t.Fatalf("context:\n%s\nwant:\n%s", m.Context, want)
	}
}

func TestDetectContextAtEdges(t *testing.T) {
	d := newDetector(t, `{"X": ["needle"]}`)
	matches, _ := d.Detect("needle\nsecond", "x.js")
	if len(matches) != 1 || matches[0].Context != "Line 1: needle\nLine 2: second" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestDetectIgnoresComments(t *testing.T) {
	d := newDetector(t, "")
	code := "// md5 is weak\n/* sha1\n also rsa */\nvar s = 'md5 in a string';"
	matches, _ := d.Detect(code, "c.js")
	if len(matches) != 1 {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Algorithm != "MD5" || matches[0].Line != 4 {
		t.Fatalf("match = %+v", matches[0])
	}
}

func TestDetectCaseInsensitive(t *testing.T) {
	d := newDetector(t, `{"SHA-1": ["sha1"]}`)
	matches, _ := d.Detect("hash = SHA1(x)", "s.js")
	if len(matches) != 1 || matches[0].Match != "SHA1" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestDetectDeduplicatesPerLine(t *testing.T) {
	d := newDetector(t, `{"MD5": ["md5", "md5\\(", "hex_md5"]}`)
	code := "md5(a); md5(b); hex_md5(c)\nmd5(d)"
	matches, _ := d.Detect(code, "d.js")
	seen := map[models.MatchKey]bool{}
	for _, m := range matches {
		if seen[m.Key()] {
			t.Fatalf("duplicate record for %+v", m.Key())
		}
		seen[m.Key()] = true
	}
	if len(matches) != 2 {
		t.Fatalf("got %d records, want one per line: %+v", len(matches), matches)
	}
	if matches[0].Match != "md5" {
		t.Fatalf("first pattern's hit should win: %+v", matches[0])
	}
}

func TestDetectDeterministic(t *testing.T) {
	code := "var k = CryptoJS.AES.encrypt(m, key);\nvar h = md5(k);\nbtoa(h); rsa; des"
	a, _ := newDetector(t, "").Detect(code, "p.js")
	b, _ := newDetector(t, "").Detect(code, "p.js")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("results differ:\n%+v\n%+v", a, b)
	}
}

func TestDetectMemoRetagsSource(t *testing.T) {
	d := newDetector(t, "")
	code := "md5(x)"
	first, _ := d.Detect(code, "one.js")
	second, _ := d.Detect(code, "two.js")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("matches = %+v / %+v", first, second)
	}
	if first[0].Source != "one.js" || second[0].Source != "two.js" {
		t.Fatalf("sources = %q, %q", first[0].Source, second[0].Source)
	}
}

func TestDetectSeesRuleChanges(t *testing.T) {
	d := newDetector(t, "")
	code := "blowfish.encrypt(x)"
	if m, _ := d.Detect(code, "b.js"); len(m) != 0 {
		t.Fatalf("unexpected matches %+v", m)
	}
	if _, err := d.Store().Merge([]byte(`{"Blowfish": ["blowfish"]}`), "extra.json"); err != nil {
		t.Fatal(err)
	}
	m, _ := d.Detect(code, "b.js")
	if len(m) != 1 || m[0].Algorithm != "Blowfish" {
		t.Fatalf("matches after merge = %+v", m)
	}
}

func TestDetectEmpty(t *testing.T) {
	d := newDetector(t, "")
	if m, errs := d.Detect("", "e.js"); len(m) != 0 || len(errs) != 0 {
		t.Fatalf("matches = %+v errs = %v", m, errs)
	}
}

func TestDetectFileHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.HTML")
	html := "<html><body><p>md5 in text</p>\n<script>var x = btoa('hi')</script></body></html>"
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}
	matches, err := newDetector(t, "").DetectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Algorithm != "Base64" || matches[0].Source != path {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestDetectFileErrors(t *testing.T) {
	d := newDetector(t, "")
	dir := t.TempDir()
	if _, err := d.DetectFile(filepath.Join(dir, "missing.js")); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := d.DetectFile(dir); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestDetectDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.js":          "md5(x)",
		"sub/b.mjs":     "crypto.createHash('sha256')",
		"sub/c.html":    "<script>atob(s)</script>",
		"notes.txt":     "md5 everywhere",
		"sub/d.cjs":     "// des\nvar clean = 1;",
		"sub/deep/e.JS": "rsa",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var progress []int
	result, err := newDetector(t, "").DetectDirectory(dir, func(current, total int, path string) {
		if total != 5 {
			t.Errorf("total = %d", total)
		}
		progress = append(progress, current)
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Files != 5 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if !reflect.DeepEqual(progress, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("progress = %v", progress)
	}

	algorithms := map[string]bool{}
	for _, m := range result.Matches {
		algorithms[m.Algorithm] = true
	}
	for _, want := range []string{"MD5", "SHA-256", "Base64", "RSA"} {
		if !algorithms[want] {
			t.Errorf("missing %s in %+v", want, result.Matches)
		}
	}
	if algorithms["DES"] {
		t.Error("commented-out DES reported")
	}
}

func TestDetectDirectoryErrors(t *testing.T) {
	d := newDetector(t, "")
	empty := t.TempDir()
	os.WriteFile(filepath.Join(empty, "readme.md"), []byte("md5"), 0o644)
	if _, err := d.DetectDirectory(empty, nil); !errors.Is(err, models.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := d.DetectDirectory(filepath.Join(empty, "nope"), nil); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
