package utils

import (
	"net/url"
	"path/filepath"
	"strings"
)

// ScanExtensions are the local file types the detector reads.
var ScanExtensions = []string{".js", ".mjs", ".cjs", ".html", ".htm"}

func IsCrawlableURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	// Must have scheme and host
	if u.Scheme == "" || u.Host == "" {
		return false
	}

	// Only allow HTTP and HTTPS
	return u.Scheme == "http" || u.Scheme == "https"
}

// ResolveURL joins href onto baseURL the way a browser would. It returns ""
// when either side does not parse.
func ResolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}

	return base.ResolveReference(link).String()
}

// IsScriptURL reports whether a resolved URL names a .js resource. The check
// is on the full URL, so a query string disqualifies it.
func IsScriptURL(rawURL string) bool {
	return strings.HasSuffix(rawURL, ".js")
}

// IsScanFile reports whether path has one of ScanExtensions.
func IsScanFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ScanExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func IsHTMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".html" || ext == ".htm"
}
