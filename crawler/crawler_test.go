package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cryptoscan/detector"
	"cryptoscan/models"
	"cryptoscan/rules"
)

// site serves fixed bodies by path and counts requests.
type site struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
	ua    string
}

func newSite(t *testing.T, pages map[string]string) (*site, *httptest.Server) {
	t.Helper()
	s := &site{pages: pages, hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.ua = r.Header.Get("User-Agent")
		s.mu.Unlock()

		body, ok := s.pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".js") {
			w.Header().Set("Content-Type", "application/javascript")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *site) userAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ua
}

func (s *site) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newCrawler() *Crawler {
	d := detector.New(rules.NewStore(), nil, nil)
	return New(d, Options{}, nil, nil)
}

func TestCrawlExternalScript(t *testing.T) {
	_, srv := newSite(t, map[string]string{
		"/":              `<html><script>var ok = 1;</script><script src="/static/app.js"></script></html>`,
		"/static/app.js": `var c = crypto.createCipher('des');`,
	})

	res, err := newCrawler().Crawl(context.Background(), srv.URL+"/", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %+v", res.Matches)
	}
	m := res.Matches[0]
	if m.Algorithm != "DES" || m.Source != ExternalSource(srv.URL+"/static/app.js") {
		t.Fatalf("match = %+v", m)
	}
	if res.Visited != 1 {
		t.Fatalf("visited = %d, the script is past the depth limit", res.Visited)
	}
}

func TestCrawlInlineSourceTag(t *testing.T) {
	_, srv := newSite(t, map[string]string{
		"/index.html": `<script>var h = md5(x);</script>`,
	})
	res, err := newCrawler().Crawl(context.Background(), srv.URL+"/index.html", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Source != InlineSource(srv.URL+"/index.html") {
		t.Fatalf("matches = %+v", res.Matches)
	}
}

func TestCrawlCycleVisitsOnce(t *testing.T) {
	s, srv := newSite(t, map[string]string{
		"/":     `<script src="a.js"></script>`,
		"/a.js": `<script src="b.js"></script> md5`,
		"/b.js": `<script src="a.js"></script> <script src="/"></script> sha1`,
	})

	res, err := newCrawler().Crawl(context.Background(), srv.URL+"/", 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 3 {
		t.Fatalf("visited = %d", res.Visited)
	}
	for _, path := range []string{"/", "/a.js", "/b.js"} {
		if n := s.count(path); n != 1 {
			t.Errorf("%s fetched %d times", path, n)
		}
	}

	algorithms := map[string]bool{}
	for _, m := range res.Matches {
		algorithms[m.Algorithm] = true
	}
	if !algorithms["MD5"] || !algorithms["SHA-1"] {
		t.Fatalf("matches = %+v", res.Matches)
	}
}

func TestCrawlDepthBound(t *testing.T) {
	s, srv := newSite(t, map[string]string{
		"/":     `<script src="1.js"></script>`,
		"/1.js": `<script src="2.js"></script>`,
		"/2.js": `<script src="3.js"></script>`,
		"/3.js": `<script src="4.js"></script>`,
		"/4.js": `rsa`,
	})

	res, err := newCrawler().Crawl(context.Background(), srv.URL+"/", 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 2 {
		t.Fatalf("visited = %d", res.Visited)
	}
	// 2.js is fetched for detection by its depth-2 parent but never crawled.
	if s.count("/2.js") != 1 || s.count("/3.js") != 0 || s.count("/4.js") != 0 {
		t.Fatalf("hits: 2.js=%d 3.js=%d 4.js=%d", s.count("/2.js"), s.count("/3.js"), s.count("/4.js"))
	}
}

func TestCrawlFailuresAreIsolated(t *testing.T) {
	_, srv := newSite(t, map[string]string{
		"/":          `<script src="gone.js"></script><script src="ok.js"></script><script src="style.css"></script>`,
		"/ok.js":     `btoa(x)`,
		"/style.css": `md5`,
	})

	res, err := newCrawler().Crawl(context.Background(), srv.URL+"/", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Algorithm != "Base64" {
		t.Fatalf("matches = %+v", res.Matches)
	}
	if res.Stats.Errors != 1 {
		t.Fatalf("errors = %d", res.Stats.Errors)
	}
}

func TestCrawlStartPageFailure(t *testing.T) {
	_, srv := newSite(t, map[string]string{})
	res, err := newCrawler().Crawl(context.Background(), srv.URL+"/missing", 1)
	if err != nil {
		t.Fatalf("a failed page must not abort the crawl: %v", err)
	}
	if len(res.Matches) != 0 || res.Visited != 1 || res.Stats.Errors != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCrawlSendsBrowserUserAgent(t *testing.T) {
	s, srv := newSite(t, map[string]string{"/": `<p>hi</p>`})
	if _, err := newCrawler().Crawl(context.Background(), srv.URL+"/", 1); err != nil {
		t.Fatal(err)
	}
	if ua := s.userAgent(); !strings.HasPrefix(ua, "Mozilla/5.0") {
		t.Fatalf("user agent = %q", ua)
	}
}

func TestCrawlBodyLimit(t *testing.T) {
	_, srv := newSite(t, map[string]string{
		"/": `<script>var pad = "` + strings.Repeat("x", 64) + `"; md5(x)</script>`,
	})
	d := detector.New(rules.NewStore(), nil, nil)
	c := New(d, Options{MaxBodyBytes: 32}, nil, nil)
	res, err := c.Crawl(context.Background(), srv.URL+"/", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("content past the body limit was scanned: %+v", res.Matches)
	}
}

func TestCrawlRejectsBadInput(t *testing.T) {
	c := newCrawler()
	ctx := context.Background()
	for _, depth := range []int{0, 4} {
		if _, err := c.Crawl(ctx, "http://example.com", depth); !errors.Is(err, models.ErrInvalidFormat) {
			t.Errorf("depth %d: expected ErrInvalidFormat, got %v", depth, err)
		}
	}
	for _, u := range []string{"", "ftp://example.com", "not a url", "/relative"} {
		if _, err := c.Crawl(ctx, u, 1); !errors.Is(err, models.ErrInvalidFormat) {
			t.Errorf("%q: expected ErrInvalidFormat, got %v", u, err)
		}
	}
}

func TestDecodeBody(t *testing.T) {
	latin1 := string([]byte{'m', 0xe9, 'd', '5'})
	got, err := io.ReadAll(decodeBody(strings.NewReader(latin1), "text/html; charset=ISO-8859-1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "méd5" {
		t.Fatalf("decoded %q", got)
	}

	got, _ = io.ReadAll(decodeBody(strings.NewReader("plain"), "application/javascript"))
	if string(got) != "plain" {
		t.Fatalf("decoded %q", got)
	}
}
