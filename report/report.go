// Package report renders scan results, rule libraries and sessions as
// colored console tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"cryptoscan/crawler"
	"cryptoscan/detector"
	"cryptoscan/models"
	"cryptoscan/results"
	"cryptoscan/rules"
)

// PreviewPatterns is how many patterns per algorithm a library preview shows.
const PreviewPatterns = 5

var (
	title   = color.New(color.FgCyan, color.Bold)
	heading = color.New(color.FgMagenta, color.Bold)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
	dim     = color.New(color.Faint)
)

type Printer struct {
	w io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) banner(text string) {
	title.Fprintln(p.w, "\n"+text)
	fmt.Fprintln(p.w, strings.Repeat("=", len(text)))
}

func (p *Printer) Success(format string, args ...any) {
	good.Fprintf(p.w, "✅ "+format+"\n", args...)
}

func (p *Printer) Warning(format string, args ...any) {
	warn.Fprintf(p.w, "⚠️  "+format+"\n", args...)
}

func (p *Printer) Error(format string, args ...any) {
	bad.Fprintf(p.w, "❌ "+format+"\n", args...)
}

// Results prints one table per algorithm. With showContext each record is
// followed by its surrounding lines.
func (p *Printer) Results(matches []models.Match, showContext bool) {
	if len(matches) == 0 {
		p.Warning("No cryptographic algorithms detected")
		return
	}

	groups := results.GroupByAlgorithm(matches)
	p.banner(fmt.Sprintf("🔍 Detection Results: %d matches, %d algorithms", len(matches), len(groups)))

	for _, g := range groups {
		heading.Fprintf(p.w, "\n%s (%d)\n", g.Algorithm, len(g.Matches))
		fmt.Fprintf(p.w, "%-6s %-50s %-30s\n", "Line", "Source", "Match")
		fmt.Fprintln(p.w, strings.Repeat("-", 88))
		for _, m := range g.Matches {
			fmt.Fprintf(p.w, "%-6d %-50s %-30s\n", m.Line, truncate(m.Source, 50), truncate(oneLine(m.Match), 30))
			if showContext && m.Context != "" {
				for _, line := range strings.Split(m.Context, "\n") {
					dim.Fprintf(p.w, "       %s\n", truncate(line, 120))
				}
			}
		}
	}
}

// RuleStats prints where the live rules came from and how many there are.
func (p *Printer) RuleStats(source string, stats rules.Stats) {
	p.banner("📚 Loaded Rules")
	fmt.Fprintf(p.w, "%-20s %s\n", "Source", source)
	fmt.Fprintf(p.w, "%-20s %d\n", "Algorithms", stats.Algorithms)
	fmt.Fprintf(p.w, "%-20s %d\n", "Patterns", stats.Patterns)
}

// Library lists each algorithm with its pattern count and the first
// maxPatterns patterns. maxPatterns <= 0 lists every pattern.
func (p *Printer) Library(name string, lib *rules.Library, maxPatterns int) {
	p.banner(fmt.Sprintf("📄 %s: %d algorithms, %d patterns", name, lib.Len(), lib.PatternCount()))
	fmt.Fprintf(p.w, "%-20s %-8s %s\n", "Algorithm", "Count", "Patterns")
	fmt.Fprintln(p.w, strings.Repeat("-", 88))

	lib.Each(func(algorithm string, patterns []string) {
		shown := patterns
		if maxPatterns > 0 && len(shown) > maxPatterns {
			shown = shown[:maxPatterns]
		}
		for i, pattern := range shown {
			if i == 0 {
				fmt.Fprintf(p.w, "%-20s %-8d %s\n", truncate(algorithm, 20), len(patterns), truncate(pattern, 58))
				continue
			}
			fmt.Fprintf(p.w, "%-20s %-8s %s\n", "", "", truncate(pattern, 58))
		}
		if len(shown) == 0 {
			fmt.Fprintf(p.w, "%-20s %-8d\n", truncate(algorithm, 20), 0)
		}
		if rest := len(patterns) - len(shown); rest > 0 {
			dim.Fprintf(p.w, "%-20s %-8s ... and %d more\n", "", "", rest)
		}
	})
}

// MergeReport prints the per-algorithm outcome of a merge.
func (p *Printer) MergeReport(r *rules.MergeReport) {
	p.banner("🔀 Merge Report: " + r.Source)
	fmt.Fprintf(p.w, "%-20s %-8s %-8s %-8s %-10s %s\n", "Algorithm", "Before", "Incoming", "After", "Duplicates", "")
	fmt.Fprintln(p.w, strings.Repeat("-", 70))
	for _, a := range r.Algorithms {
		status := ""
		if a.New {
			status = good.Sprint("new")
		}
		fmt.Fprintf(p.w, "%-20s %-8d %-8d %-8d %-10d %s\n", truncate(a.Algorithm, 20), a.Before, a.Incoming, a.After, a.Duplicates, status)
	}
	fmt.Fprintf(p.w, "\nAlgorithms: %d -> %d, patterns: %d -> %d\n",
		r.Before.Algorithms, r.After.Algorithms, r.Before.Patterns, r.After.Patterns)
}

// Directory prints the file counts of a directory scan and any failures.
func (p *Printer) Directory(dir string, res *detector.DirectoryResult) {
	p.banner("📁 Directory Scan: " + dir)
	fmt.Fprintf(p.w, "%-20s %d\n", "Files scanned", res.Files)
	fmt.Fprintf(p.w, "%-20s %d\n", "Matches", len(res.Matches))
	fmt.Fprintf(p.w, "%-20s %d\n", "Failures", len(res.Errors))
	for _, e := range res.Errors {
		warn.Fprintf(p.w, "  %s\n", e.Error())
	}
}

// Crawl prints the crawl statistics.
func (p *Printer) Crawl(startURL string, res *crawler.Result) {
	s := res.Stats
	p.banner("🕸️  Crawl Summary: " + startURL)
	fmt.Fprintf(p.w, "%-20s %d\n", "URLs visited", res.Visited)
	fmt.Fprintf(p.w, "%-20s %d\n", "Pages fetched", s.PagesFetched)
	fmt.Fprintf(p.w, "%-20s %d\n", "Scripts fetched", s.ScriptsFetched)
	fmt.Fprintf(p.w, "%-20s %d\n", "Beyond depth", s.PagesSkipped)
	fmt.Fprintf(p.w, "%-20s %d\n", "Errors", s.Errors)
	fmt.Fprintf(p.w, "%-20s %s\n", "Downloaded", formatBytes(s.TotalSize))
	fmt.Fprintf(p.w, "%-20s %s\n", "Duration", s.Duration.Round(time.Millisecond))
	if s.Duration > 0 {
		rate := float64(s.PagesFetched+s.ScriptsFetched) / s.Duration.Seconds()
		fmt.Fprintf(p.w, "%-20s %.2f fetches/second\n", "Rate", rate)
	}
}

// Sessions lists saved or archived sessions.
func (p *Printer) Sessions(sessions []models.SessionSummary) {
	if len(sessions) == 0 {
		p.Warning("No saved sessions found")
		return
	}
	p.banner(fmt.Sprintf("🗂️  Saved Sessions (%d)", len(sessions)))
	fmt.Fprintf(p.w, "%-4s %-36s %-20s %-8s %s\n", "#", "File", "Timestamp", "Count", "ID")
	fmt.Fprintln(p.w, strings.Repeat("-", 88))
	for i, s := range sessions {
		fmt.Fprintf(p.w, "%-4d %-36s %-20s %-8d %s\n", i+1, truncate(s.File, 36), s.Timestamp, s.Count, s.ID)
	}
}

// Session prints one loaded session.
func (p *Printer) Session(name string, s *models.Session, showContext bool) {
	p.banner(fmt.Sprintf("📋 Session %s: %s, %d records", name, s.Timestamp, s.Count))
	p.Results(s.Results, showContext)
}

// Progress returns a detector progress callback that redraws one line.
func (p *Printer) Progress() detector.ProgressFunc {
	return func(current, total int, path string) {
		fmt.Fprintf(p.w, "\r[%d/%d] %-60s", current, total, truncate(path, 60))
		if current == total {
			fmt.Fprintln(p.w)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
