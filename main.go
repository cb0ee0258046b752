package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clubotel-scraper/bot"
	"clubotel-scraper/cache"
	"clubotel-scraper/config"
	"clubotel-scraper/daterange"
	"clubotel-scraper/db"
	"clubotel-scraper/fetcher"
	"clubotel-scraper/scheduler"
	"clubotel-scraper/scraper"
	"clubotel-scraper/server"
	"clubotel-scraper/sheets"
	"clubotel-scraper/table"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "clubotel-scraper",
		Usage: "Track the lowest Clubotel room prices for upcoming stays",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"CLUBOTEL_CONFIG"},
			},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Debug logging"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Only log errors"},
			&cli.StringFlag{Name: "log-format", Usage: "Log format: text or json"},
		},
		Commands: []*cli.Command{
			{
				Name:   "scrape",
				Usage:  "Refresh prices once and print the table",
				Flags:  append(refreshFlags(), tableFlags()...),
				Action: scrapeAction,
			},
			{
				Name:  "serve",
				Usage: "Serve the price table over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address (default from config)"},
					&cli.BoolFlag{Name: "prefetch", Usage: "Refresh in the background on an interval"},
				},
				Action: serveAction,
			},
			{
				Name:  "bot",
				Usage: "Run the Telegram bot",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "prefetch", Usage: "Refresh in the background on an interval"},
				},
				Action: botAction,
			},
			{
				Name:   "export",
				Usage:  "Refresh prices and write them to a new Google Sheets tab",
				Flags:  refreshFlags(),
				Action: exportAction,
			},
			{
				Name:  "cache",
				Usage: "Manage the price cache",
				Subcommands: []*cli.Command{
					{
						Name:   "clear",
						Usage:  "Delete every cached price",
						Action: cacheClearAction,
					},
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func refreshFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "start", Usage: "First check-in date (YYYY-MM-DD, default today)"},
		&cli.StringFlag{Name: "end", Usage: "Last check-out date (YYYY-MM-DD, default three months ahead)"},
		&cli.StringFlag{Name: "policy", Usage: "Stay pattern: weekly, short or both"},
		&cli.BoolFlag{Name: "fast", Usage: "Scrape with the fast worker pool"},
		&cli.BoolFlag{Name: "force", Usage: "Re-scrape stays that are still fresh"},
	}
}

func tableFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "sort", Value: "in", Usage: "Sort column"},
		&cli.BoolFlag{Name: "desc", Usage: "Sort descending"},
		&cli.BoolFlag{Name: "csv", Usage: "Print CSV instead of text"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to file instead of stdout"},
	}
}

// services is everything a command needs, built from the config
type services struct {
	cfg       *config.Config
	logger    *slog.Logger
	blobs     db.BlobStore
	store     *cache.Store
	closer    io.Closer
	scheduler *scheduler.Scheduler
	filter    *table.Filter
}

func setup(c *cli.Context) (*services, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Log, c.Bool("verbose"), c.Bool("quiet"), c.String("log-format"))
	slog.SetDefault(logger)

	policy, err := daterange.ParsePolicy(cfg.Scrape.Policy)
	if err != nil {
		return nil, err
	}

	blobs, err := db.Open(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache backend: %w", err)
	}
	store := cache.New(blobs, cache.WithStaleAfter(cfg.Cache.StaleAfter()))
	if err := store.Load(c.Context); err != nil {
		blobs.Close()
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}

	f, closer, err := fetcher.New(cfg.Scrape, logger)
	if err != nil {
		blobs.Close()
		return nil, err
	}

	orch := scraper.NewOrchestrator(f, nil,
		daterange.URLBuilder(cfg.Site.BaseURL, cfg.Site.Params),
		scraper.Options{
			Workers:     cfg.Scrape.Workers,
			FastWorkers: cfg.Scrape.FastWorkers,
			Delay:       cfg.Scrape.Delay(),
		}, logger)

	sched := scheduler.NewScheduler(store, orch, scraper.NewTracker(), scheduler.Options{
		Policy:       policy,
		Interval:     cfg.Prefetch.Interval(),
		FastPrefetch: cfg.Prefetch.Fast,
	}, logger)

	logger.Debug("Configuration loaded",
		"fetcher", cfg.Scrape.Fetcher,
		"cache", cfg.Cache.Backend,
		"policy", policy,
		"entries", store.Len())

	return &services{
		cfg:       cfg,
		logger:    logger,
		blobs:     blobs,
		store:     store,
		closer:    closer,
		scheduler: sched,
		filter:    table.NewFilter(cfg.Filters),
	}, nil
}

func (r *services) Close() {
	r.scheduler.Stop()
	if err := r.closer.Close(); err != nil {
		r.logger.Warn("Error closing fetcher", "error", err)
	}
	if err := r.blobs.Close(); err != nil {
		r.logger.Warn("Error closing cache backend", "error", err)
	}
}

// attachSheets exports every finished refresh when a spreadsheet is configured
func (r *services) attachSheets(ctx context.Context) {
	if r.cfg.Sheets.SpreadsheetURL == "" {
		return
	}
	w, err := sheets.NewWriterFromConfig(ctx, r.cfg.Sheets, r.logger)
	if err != nil {
		r.logger.Warn("Google Sheets export disabled", "error", err)
		return
	}
	r.scheduler.OnComplete(w.ExportHook(r.filter))
	r.logger.Info("Google Sheets export enabled")
}

func newLogger(cfg config.LogConfig, verbose, quiet bool, format string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}

	if format == "" {
		format = cfg.Format
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func refreshRequest(c *cli.Context) (scheduler.Request, error) {
	req := scheduler.Request{
		Fast:  c.Bool("fast"),
		Force: c.Bool("force"),
	}
	if v := c.String("start"); v != "" {
		d, err := daterange.ParseDate(v)
		if err != nil {
			return req, err
		}
		req.Start = d
	}
	if v := c.String("end"); v != "" {
		d, err := daterange.ParseDate(v)
		if err != nil {
			return req, err
		}
		req.End = d
	}
	if v := c.String("policy"); v != "" {
		p, err := daterange.ParsePolicy(v)
		if err != nil {
			return req, err
		}
		req.Policy = p
	}
	return req, nil
}

func scrapeAction(c *cli.Context) error {
	req, err := refreshRequest(c)
	if err != nil {
		return err
	}
	key, err := table.ParseSortKey(c.String("sort"))
	if err != nil {
		return err
	}

	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.scheduler.Refresh(c.Context, req)
	if err != nil {
		return err
	}

	rows := rt.filter.ApplyFilters(table.Project(rt.store.Snapshot()))
	table.Sort(rows, key, c.Bool("desc"))

	out := io.Writer(os.Stdout)
	if path := c.String("output"); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	if c.Bool("csv") {
		if err := table.WriteCSV(out, rows); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, table.FormatText(rows))
	}

	fmt.Fprintf(os.Stderr, "\nScraped %d of %d stays (%d failed), %d lower prices, %d in table\n",
		summary.Stats.Succeeded+summary.Stats.Empty, summary.Pending, summary.Stats.Failed,
		summary.Improved, len(rows))
	return nil
}

func serveAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.attachSheets(c.Context)
	if c.Bool("prefetch") || rt.cfg.Prefetch.Enabled {
		rt.scheduler.Start()
	}

	addr := c.String("addr")
	if addr == "" {
		addr = rt.cfg.Server.Addr
	}
	return server.New(rt.scheduler, rt.logger).ListenAndServe(c.Context, addr)
}

func botAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Telegram.Token == "" {
		return errors.New("telegram token is not set (telegram.token or TELEGRAM_TOKEN)")
	}
	if len(rt.cfg.Telegram.AllowedUserIDs) == 0 {
		rt.logger.Warn("No allowed Telegram users configured, every command will be refused")
	}

	b, err := bot.New(rt.cfg.Telegram.Token, rt.scheduler, bot.Options{
		AllowedUserIDs: rt.cfg.Telegram.AllowedUserIDs,
		NotifyChatID:   rt.cfg.Telegram.NotifyChatID,
		Filter:         rt.filter,
	}, rt.logger)
	if err != nil {
		return err
	}

	rt.attachSheets(c.Context)
	if c.Bool("prefetch") || rt.cfg.Prefetch.Enabled {
		rt.scheduler.Start()
	}
	return b.Run(c.Context)
}

func exportAction(c *cli.Context) error {
	req, err := refreshRequest(c)
	if err != nil {
		return err
	}

	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := sheets.NewWriterFromConfig(c.Context, rt.cfg.Sheets, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Google Sheets writer: %w", err)
	}

	summary, err := rt.scheduler.Refresh(c.Context, req)
	if err != nil {
		return err
	}

	rows := rt.filter.ApplyFilters(table.Project(rt.store.Snapshot()))
	table.Sort(rows, table.SortCheckIn, false)

	meta := fmt.Sprintf("Range %s → %s, policy %s", summary.Start, summary.End, summary.Policy)
	name, sheetID, err := w.CreateSheetAndWriteRows(c.Context, sheets.SheetName(summary.Stats.RunID, time.Now()), rows, meta)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d stays to sheet %q: %s#gid=%d\n", len(rows), name, rt.cfg.Sheets.SpreadsheetURL, sheetID)
	return nil
}

func cacheClearAction(c *cli.Context) error {
	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	n := rt.store.Len()
	if err := rt.store.Clear(c.Context); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Printf("Cleared %d cached stays\n", n)
	return nil
}
