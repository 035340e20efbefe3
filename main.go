package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoscan/config"
	"cryptoscan/crawler"
	"cryptoscan/database"
	"cryptoscan/detector"
	"cryptoscan/logging"
	"cryptoscan/models"
	"cryptoscan/report"
	"cryptoscan/results"
	"cryptoscan/rules"
	"cryptoscan/telemetry"
)

const serviceName = "cryptoscan"

type options struct {
	mode      string
	path      string
	url       string
	depth     int
	rulesFile string
	mergeFile string
	saveRules string
	view      string
	save      bool
	yes       bool
	context   bool
	detail    bool
	archive   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.mode, "mode", "rules", "Mode: 'file', 'dir', 'crawl', 'rules', or 'sessions'")
	flag.StringVar(&opts.path, "path", "", "File or directory to scan")
	flag.StringVar(&opts.url, "url", "", "Starting URL to crawl")
	flag.IntVar(&opts.depth, "depth", 1, "Maximum crawl depth (1-3)")
	flag.StringVar(&opts.rulesFile, "rules", "", "Rule file (JSON or YAML) to preview and load in place of the current rules")
	flag.StringVar(&opts.mergeFile, "merge", "", "Rule file to preview and merge into the current rules")
	flag.StringVar(&opts.saveRules, "save-rules", "", "Write the current rules to this JSON file")
	flag.StringVar(&opts.view, "view", "", "Session file (or archive ID with -archive) to display")
	flag.BoolVar(&opts.save, "save", false, "Save detection results without asking")
	flag.BoolVar(&opts.yes, "yes", false, "Answer yes to every confirmation")
	flag.BoolVar(&opts.context, "context", false, "Show the lines around each match")
	flag.BoolVar(&opts.detail, "detail", false, "List every pattern of the current rules")
	flag.BoolVar(&opts.archive, "archive", false, "Read sessions from the configured archive database")
	flag.Parse()

	cfg := config.Load()
	printer := report.New(os.Stdout)

	logger, closeLog, err := logging.Init(serviceName, logging.Options{
		Level:   cfg.LogLevel,
		JSON:    cfg.JSONLog,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		printer.Error("%v", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics := telemetry.InitMetrics(ctx, serviceName, cfg.OTLPEndpoint, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownMetrics(shutdownCtx)
	}()

	if err := run(ctx, cfg, opts, logger, printer); err != nil {
		logger.Error("command failed", "mode", opts.mode, "error", err)
		printer.Error("%v", err)
		closeLog()
		os.Exit(1)
	}
}

// app is the detector context threaded through every command.
type app struct {
	cfg       *config.Config
	opts      options
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	printer   *report.Printer
	confirmer report.Confirmer
	store     *rules.Store
	detector  *detector.Detector
	sink      *results.Sink
	archive   database.Archive
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger, printer *report.Printer) error {
	a := &app{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		metrics: telemetry.NewMetrics(),
		printer: printer,
		store:   rules.NewStore(),
	}
	if opts.yes {
		a.confirmer = report.AutoConfirm(true)
	} else {
		a.confirmer = report.NewPrompter(os.Stdin, os.Stdout)
	}

	if cfg.RulesFile != "" {
		if err := a.store.LoadFile(cfg.RulesFile); err != nil {
			return fmt.Errorf("startup rules: %w", err)
		}
		logger.Info("rules loaded", "source", cfg.RulesFile, "algorithms", a.store.Stats().Algorithms)
	}

	archive, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	if archive != nil {
		a.archive = archive
		defer archive.Close()
	}

	a.sink = results.NewSink(cfg.SessionDir, cfg.SessionBase, cfg.MaxSessionFiles, logger, a.metrics)
	if a.archive != nil {
		a.sink.Recorder = a.archive
	}
	a.detector = detector.New(a.store, logger, a.metrics)

	if err := a.applyRuleFlags(); err != nil {
		return err
	}

	switch opts.mode {
	case "file":
		return a.scanFile(ctx)
	case "dir":
		return a.scanDirectory(ctx)
	case "crawl":
		return a.crawl(ctx)
	case "rules":
		a.showRules()
		return nil
	case "sessions":
		return a.sessions(ctx)
	default:
		return fmt.Errorf("invalid mode %q: use 'file', 'dir', 'crawl', 'rules', or 'sessions'", opts.mode)
	}
}

func openArchive(cfg *config.Config, logger *slog.Logger) (database.Archive, error) {
	var archives database.Multi
	if cfg.HistoryDB != "" {
		db, err := database.NewBoltDB(cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
		archives = append(archives, db)
		logger.Info("session history enabled", "path", cfg.HistoryDB)
	}
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			archives.Close()
			return nil, fmt.Errorf("%w: session archive: %v", models.ErrIO, err)
		}
		archives = append(archives, db)
		logger.Info("postgres session archive enabled")
	}
	switch len(archives) {
	case 0:
		return nil, nil
	case 1:
		return archives[0], nil
	}
	return archives, nil
}

// applyRuleFlags previews each rule file once, then loads, merges or saves
// only after confirmation.
func (a *app) applyRuleFlags() error {
	if a.opts.rulesFile != "" {
		lib, err := rules.ParseFile(a.opts.rulesFile)
		if err != nil {
			return err
		}
		a.printer.Library(a.opts.rulesFile, lib, report.PreviewPatterns)
		if a.confirmer.Confirm("Replace the current rules with this file?") {
			if err := a.store.Replace(lib, a.opts.rulesFile); err != nil {
				return err
			}
			a.printer.Success("Loaded %d algorithms from %s", lib.Len(), a.opts.rulesFile)
		} else {
			a.printer.Warning("Load cancelled")
		}
	}

	if a.opts.mergeFile != "" {
		lib, err := rules.ParseFile(a.opts.mergeFile)
		if err != nil {
			return err
		}
		a.printer.Library(a.opts.mergeFile, lib, report.PreviewPatterns)
		if a.confirmer.Confirm("Merge this file into the current rules?") {
			r, err := a.store.MergeLibrary(lib, a.opts.mergeFile)
			if err != nil {
				return err
			}
			a.printer.MergeReport(r)
		} else {
			a.printer.Warning("Merge cancelled")
		}
	}

	if a.opts.saveRules != "" {
		if _, err := os.Stat(a.opts.saveRules); err == nil {
			if !a.confirmer.Confirm(fmt.Sprintf("%s exists. Overwrite it?", a.opts.saveRules)) {
				a.printer.Warning("Save cancelled")
				return nil
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", models.ErrIO, err)
		}
		if err := a.store.SaveFile(a.opts.saveRules); err != nil {
			return err
		}
		a.printer.Success("Rules saved to %s", a.opts.saveRules)
	}
	return nil
}

func (a *app) showRules() {
	a.printer.RuleStats(a.store.Source(), a.store.Stats())
	if a.opts.detail {
		a.printer.Library(a.store.Source(), a.store.Snapshot(), 0)
	}
}

func (a *app) scanFile(ctx context.Context) error {
	if a.opts.path == "" {
		return fmt.Errorf("%w: -path is required in file mode", models.ErrInvalidFormat)
	}
	matches, err := a.detector.DetectFile(a.opts.path)
	if err != nil {
		return err
	}
	return a.finish(ctx, matches)
}

func (a *app) scanDirectory(ctx context.Context) error {
	if a.opts.path == "" {
		return fmt.Errorf("%w: -path is required in dir mode", models.ErrInvalidFormat)
	}
	res, err := a.detector.DetectDirectory(a.opts.path, a.printer.Progress())
	if err != nil {
		return err
	}
	a.printer.Directory(a.opts.path, res)
	return a.finish(ctx, res.Matches)
}

func (a *app) crawl(ctx context.Context) error {
	if a.opts.url == "" {
		return fmt.Errorf("%w: -url is required in crawl mode", models.ErrInvalidFormat)
	}
	c := crawler.New(a.detector, crawler.Options{
		UserAgent:    a.cfg.UserAgent,
		Timeout:      a.cfg.RequestTimeout,
		RateLimit:    a.cfg.RateLimit,
		RateBurst:    a.cfg.RateBurst,
		MaxBodyBytes: a.cfg.MaxBodyBytes,
	}, a.logger, a.metrics)

	res, err := c.Crawl(ctx, a.opts.url, a.opts.depth)
	if res != nil {
		a.printer.Crawl(a.opts.url, res)
	}
	if err != nil {
		return err
	}
	return a.finish(ctx, res.Matches)
}

// finish shows the results and saves them when asked to.
func (a *app) finish(ctx context.Context, matches []models.Match) error {
	a.printer.Results(matches, a.opts.context)
	if len(matches) == 0 {
		return nil
	}
	if !a.opts.save && !a.confirmer.Confirm("Save these results to a session file?") {
		return nil
	}
	path, err := a.sink.Persist(ctx, matches)
	if err != nil {
		return err
	}
	a.printer.Success("Results saved to %s", path)
	return nil
}

func (a *app) sessions(ctx context.Context) error {
	if a.opts.archive {
		if a.archive == nil {
			return fmt.Errorf("%w: set DATABASE_URL or CRYPTOSCAN_HISTORY_DB to use the archive", models.ErrNotFound)
		}
		if a.opts.view != "" {
			s, err := a.archive.GetSession(ctx, a.opts.view)
			if err != nil {
				return err
			}
			a.printer.Session(a.opts.view, s, a.opts.context)
			return nil
		}
		list, err := a.archive.ListSessions(ctx, 50)
		if err != nil {
			return err
		}
		a.printer.Sessions(list)
		return nil
	}

	if a.opts.view != "" {
		s, err := results.LoadSession(a.opts.view)
		if err != nil {
			return err
		}
		a.printer.Session(a.opts.view, s, a.opts.context)
		return nil
	}
	list, err := a.sink.List()
	if err != nil {
		return err
	}
	a.printer.Sessions(list)
	return nil
}
