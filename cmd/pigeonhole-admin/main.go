// ABOUTME: Admin CLI for the pigeonhole mail store
// ABOUTME: Creates, migrates, seeds, ingests into, and inspects the database

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/pigeonhole-mail/pigeonhole/internal/config"
	"github.com/pigeonhole-mail/pigeonhole/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                        _           _
 _ __ (_) __ _  ___  ___  _ __ | |__   ___ | | ___
| '_ \| |/ _' |/ _ \/ _ \| '_ \| '_ \ / _ \| |/ _ \
| |_) | | (_| |  __/ (_) | | | | | | | (_) | |  __/
| .__/|_|\__, |\___|\___/|_| |_|_| |_|\___/|_|\___|
|_|      |___/
`

// getConfigPath returns the path to the pigeonhole config file.
// Priority: PIGEONHOLE_CONFIG env var > XDG_CONFIG_HOME/pigeonhole/config.yaml > ~/.config/pigeonhole/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PIGEONHOLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "pigeonhole.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "pigeonhole", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: pigeonhole-admin <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                 Create the database and apply all migrations")
		fmt.Println("  migrate              Apply pending migrations (-to N, -down N)")
		fmt.Println("  status               Show schema version and mailbox statistics")
		fmt.Println("  seed -file FILE      Load tags and rules from a TOML seed file")
		fmt.Println("  ingest PATH...       Import .eml files or directories of them")
		fmt.Println("  search QUERY...      Run a full-text query")
		fmt.Println("  backup               Snapshot the database into the backup directory")
		fmt.Println("  restore FILE         Replace the database with a backup file")
		fmt.Println("  check                Run integrity and migration-ledger checks")
		fmt.Println("  reindex              Rebuild the search index and refresh statistics")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(ctx)
	case "migrate":
		err = runMigrate(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx)
	case "seed":
		err = runSeed(ctx, os.Args[2:])
	case "ingest":
		err = runIngest(ctx, os.Args[2:])
	case "search":
		err = runSearch(ctx, os.Args[2:])
	case "backup":
		err = runBackup(ctx)
	case "restore":
		err = runRestore(os.Args[2:])
	case "check":
		err = runCheck(ctx)
	case "reindex":
		err = runReindex(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliEnv bundles everything a command needs once config is loaded and the
// database is open.
type cliEnv struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
}

func (e *cliEnv) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing store", "error", err)
	}
}

// setup loads config, builds the logger, and opens the store.
func setup() (*cliEnv, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	pool, err := store.Open(cfg.Database.Path, poolConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &cliEnv{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		store:      store.New(pool, logger, storeOptions(cfg)...),
	}, nil
}

func poolConfig(cfg *config.Config) store.PoolConfig {
	return store.PoolConfig{
		BusyTimeout:  cfg.Database.BusyTimeout,
		CacheKB:      cfg.Database.CacheKB,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}
}

func storeOptions(cfg *config.Config) []store.Option {
	var opts []store.Option
	if cfg.Search.SnippetLength > 0 {
		opts = append(opts, store.WithSnippetLength(cfg.Search.SnippetLength))
	}
	a := cfg.Analyze
	if a.MinRowsForIndex > 0 || a.MaxIndexesSmallTable > 0 || a.SmallTableRows > 0 {
		opts = append(opts, store.WithAnalyzeThresholds(store.AnalyzeThresholds{
			MinRowsForIndex:      int64(a.MinRowsForIndex),
			MaxIndexesSmallTable: a.MaxIndexesSmallTable,
			SmallTableRows:       int64(a.SmallTableRows),
		}))
	}
	return opts
}

func runInit(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	migrator, err := store.NewMigrator(env.store.Pool(), env.logger, store.WithSeed(1, store.DefaultSeed))
	if err != nil {
		return err
	}

	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		return err
	}

	current, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", env.configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", env.cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Schema:    version %d (%d applied)\n", current, applied)
	fmt.Println()
	return nil
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	to := fs.Int("to", -1, "Migrate to this version instead of the latest")
	down := fs.Int("down", 0, "Roll back this many migrations")
	fs.Parse(args)

	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	migrator, err := store.NewMigrator(env.store.Pool(), env.logger, store.WithSeed(1, store.DefaultSeed))
	if err != nil {
		return err
	}

	switch {
	case *down > 0:
		n, err := migrator.Down(ctx, *down)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back %d migration(s)\n", n)
	case *to >= 0:
		if err := migrator.ToVersion(ctx, *to); err != nil {
			return err
		}
		fmt.Printf("database at version %d\n", *to)
	default:
		n, err := migrator.Up(ctx, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("already up to date")
		} else {
			fmt.Printf("applied %d migration(s)\n", n)
		}
	}
	return nil
}

func runStatus(ctx context.Context) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	migrator, err := store.NewMigrator(env.store.Pool(), env.logger)
	if err != nil {
		return err
	}
	status, err := migrator.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("  Schema")
	fmt.Println("  ------")
	fmt.Printf("  Version:  %d of %d\n", status.Current, status.Latest)
	if len(status.Pending) > 0 {
		fmt.Printf("  Pending:  %s\n", strings.Join(status.Pending, ", "))
	}
	fmt.Println()

	stats, err := env.store.Queries().Statistics(ctx)
	if err != nil {
		return err
	}

	fmt.Println("  Mailbox")
	fmt.Println("  -------")
	fmt.Printf("  Emails:      %d (%d unread, %d flagged)\n", stats.TotalEmails, stats.Unread, stats.Flagged)
	fmt.Printf("  Attachments: %d emails (%.1f%%)\n", stats.WithAttachments, stats.AttachmentRate)
	fmt.Printf("  Last week:   %d received\n", stats.ReceivedLastWeek)
	if len(stats.PriorityDistribution) > 0 {
		fmt.Print("  Priority:    ")
		for score := 1; score <= 5; score++ {
			fmt.Printf("%d:%d ", score, stats.PriorityDistribution[score])
		}
		fmt.Println()
	}
	fmt.Println()

	senders, err := env.store.Queries().TopSenders(ctx, 5)
	if err != nil {
		return err
	}
	if len(senders) > 0 {
		fmt.Println("  Top Senders")
		fmt.Println("  -----------")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  SENDER\tCOUNT\tLAST SEEN")
		for _, s := range senders {
			fmt.Fprintf(w, "  %s\t%d\t%s\n", s.Sender, s.EmailCount, s.LastReceivedAt.Format("Jan 02 15:04"))
		}
		w.Flush()
		fmt.Println()
	}
	return nil
}

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	scope := fs.String("scope", "all", "Search scope: all, subject, sender, recipients, body")
	operator := fs.String("op", "AND", "Combine terms with AND, OR, or NOT")
	limit := fs.Int("limit", 20, "Maximum results")
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search: query terms required")
	}

	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	results, err := env.store.Search().Search(ctx, query, store.SearchOptions{
		Scope:    store.Scope(*scope),
		Operator: store.Operator(strings.ToUpper(*operator)),
		Limit:    *limit,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, r := range results {
		fmt.Printf("%s  %s  %s\n", r.ReceivedAt.Format("2006-01-02"), r.Sender, r.Subject)
		if r.Snippet != "" {
			gray.Printf("    %s\n", r.Snippet)
		}
	}
	return nil
}

func runBackup(ctx context.Context) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	dir := env.cfg.Backup.Directory
	if dir == "" {
		dir = filepath.Join(filepath.Dir(env.cfg.Database.Path), "backups")
	}
	dest := filepath.Join(dir, fmt.Sprintf("mail-%s.db", time.Now().UTC().Format("20060102-150405")))

	if err := env.store.Backup(ctx, dest); err != nil {
		return err
	}
	fmt.Printf("backup written to %s\n", dest)
	return nil
}

// runRestore works offline: it must never open the database it is about to
// overwrite.
func runRestore(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("restore: backup file required")
	}
	src := args[0]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := store.RestoreFile(src, cfg.Database.Path); err != nil {
		return err
	}
	fmt.Printf("restored %s from %s\n", cfg.Database.Path, src)
	return nil
}

func runCheck(ctx context.Context) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	ok, problems, err := env.store.IntegrityCheck(ctx)
	if err != nil {
		return err
	}

	migrator, err := store.NewMigrator(env.store.Pool(), env.logger)
	if err != nil {
		return err
	}
	ledgerProblems, err := migrator.Validate(ctx)
	if err != nil {
		return err
	}

	red := color.New(color.FgRed)
	for _, p := range problems {
		red.Printf("  integrity: %s\n", p)
	}
	for _, p := range ledgerProblems {
		red.Printf("  migrations: %s\n", p)
	}

	if !ok || len(ledgerProblems) > 0 {
		return fmt.Errorf("found %d problem(s)", len(problems)+len(ledgerProblems))
	}
	fmt.Println("ok")
	return nil
}

func runReindex(ctx context.Context) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.store.Search().RebuildIndex(ctx); err != nil {
		return err
	}
	if err := env.store.Optimize(ctx); err != nil {
		return err
	}

	analysis, err := env.store.Indexes().Analyze(ctx)
	if err != nil {
		return err
	}
	fmt.Println("search index rebuilt")
	for _, rec := range analysis.Recommendations {
		fmt.Printf("  %s: %s\n", rec.Table, rec.Message)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes. Logs
// go to stderr so command output stays pipeable.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(_ string) slog.Handler {
	// groups are not used by this CLI's loggers
	return h
}
