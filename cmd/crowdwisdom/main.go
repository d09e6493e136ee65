// Command crowdwisdom is the CLI surface over the pipeline, backtest
// driver, read API, scheduled supervisor, and snapshot browser
// (spec §6.3): `run`, `backtest`, `serve`, `schedule`, and `browse`.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wisdomnet/crowdwisdom/internal/cache"
	"github.com/wisdomnet/crowdwisdom/internal/cliutil"
	"github.com/wisdomnet/crowdwisdom/internal/config"
	"github.com/wisdomnet/crowdwisdom/internal/httpapi"
	"github.com/wisdomnet/crowdwisdom/internal/pipeline"
	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/store/memory"
	"github.com/wisdomnet/crowdwisdom/internal/store/postgres"
	"github.com/wisdomnet/crowdwisdom/internal/store/sqlite"
	"github.com/wisdomnet/crowdwisdom/internal/supervisor"
	"github.com/wisdomnet/crowdwisdom/internal/tui"
)

const version = "v0.1.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	var (
		storeKind string
		dsn       string
		cfgPath   string
		quiet     bool
		redisAddr string
		cacheTTL  time.Duration
	)

	rootCmd := &cobra.Command{
		Use:     "crowdwisdom",
		Short:   "Crowd-wisdom probability aggregation over prediction-market order flow",
		Version: version,
		Long: `crowdwisdom turns a prediction market's resolved trade history into a
wallet-weighted "crowd probability" that can diverge from the posted
market price, and backtests how that divergence would have traded.

Flags below are automation shims; each subcommand is self-contained and
safe to run from cron or CI.`,
	}
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "memory", "backing store: memory|sqlite|postgres")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "data source name for sqlite (file path) or postgres (connection string)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "optional YAML config file (CROWDWISDOM_* env vars always apply)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress the stderr progress spinner")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "optional Redis address for read-through snapshot caching (e.g. localhost:6379)")
	rootCmd.PersistentFlags().DurationVar(&cacheTTL, "cache-ttl", 30*time.Second, "TTL for cached latest-snapshot reads when --redis is set")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full pipeline pass (gather, F, W, snapshot every market)",
		RunE: func(cmd *cobra.Command, args []string) error {
			backtestAlso, _ := cmd.Flags().GetBool("backtest")
			explain, _ := cmd.Flags().GetBool("explain")
			return runPipeline(cmd.Context(), storeKind, dsn, cfgPath, redisAddr, cacheTTL, quiet, backtestAlso, explain)
		},
	}
	runCmd.Flags().Bool("backtest", false, "also run a single-cutoff backtest pass after snapshotting")
	runCmd.Flags().Bool("explain", false, "print each market's ranked driver table after snapshotting")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the aggregator against resolved markets and score crowd vs. market",
		RunE: func(cmd *cobra.Command, args []string) error {
			sweep, _ := cmd.Flags().GetBool("sweep")
			return runBacktest(cmd.Context(), storeKind, dsn, cfgPath, redisAddr, cacheTTL, quiet, sweep)
		},
	}
	backtestCmd.Flags().Bool("sweep", false, "score every cutoff from 1h to the configured max, not just the default cutoff")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API (snapshots, backtest reports, health, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return runServe(cmd.Context(), storeKind, dsn, redisAddr, cacheTTL, addr)
		},
	}
	serveCmd.Flags().String("addr", ":8090", "listen address")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule under a single-instance lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cronExpr, _ := cmd.Flags().GetString("cron")
			lockDir, _ := cmd.Flags().GetString("lock-dir")
			backtestAlso, _ := cmd.Flags().GetBool("backtest")
			return runSchedule(cmd.Context(), storeKind, dsn, cfgPath, cronExpr, lockDir, backtestAlso)
		},
	}
	scheduleCmd.Flags().String("cron", "0 0 * * * *", "cron schedule (seconds field included)")
	scheduleCmd.Flags().String("lock-dir", os.TempDir(), "directory for the single-instance advisory lock file")
	scheduleCmd.Flags().Bool("backtest", false, "also run a backtest pass on every scheduled tick")

	browseCmd := &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive terminal snapshot browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(cmd.Context(), storeKind, dsn)
		},
	}

	rootCmd.AddCommand(runCmd, backtestCmd, serveCmd, scheduleCmd, browseCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("crowdwisdom exited with an error")
		os.Exit(1)
	}
}

func openStore(kind, dsn, redisAddr string, cacheTTL time.Duration) (store.Store, func() error, error) {
	var (
		st      store.Store
		closeFn func() error
	)
	switch kind {
	case "memory":
		st, closeFn = memory.New(), func() error { return nil }
	case "sqlite":
		if dsn == "" {
			dsn = "crowdwisdom.db"
		}
		sst, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		st, closeFn = sst, func() error { return nil }
	case "postgres":
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres store requires --dsn")
		}
		db, err := sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if _, err := db.Exec(postgres.Schema); err != nil {
			return nil, nil, fmt.Errorf("apply postgres schema: %w", err)
		}
		st, closeFn = postgres.New(db, 10*time.Second), db.Close
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (want memory|sqlite|postgres)", kind)
	}

	if redisAddr == "" {
		return st, closeFn, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	wrapped := cache.New(st, rdb, cacheTTL)
	return wrapped, func() error {
		_ = rdb.Close()
		return closeFn()
	}, nil
}

func loadConfig(cfgPath string) (config.PipelineConfig, error) {
	return config.Load(cfgPath)
}

func runPipeline(ctx context.Context, storeKind, dsn, cfgPath, redisAddr string, cacheTTL time.Duration, quiet bool, runBacktest, explain bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	st, closeFn, err := openStore(storeKind, dsn, redisAddr, cacheTTL)
	if err != nil {
		return err
	}
	defer closeFn()

	steps := []string{"gather", "features", "weights", "snapshot"}
	if runBacktest {
		steps = append(steps, "backtest")
	}
	sl := cliutil.NewStepLogger(steps, quiet || !term.IsTerminal(int(os.Stderr.Fd())))

	p := pipeline.New(st, cfg, log.Logger)
	sl.StartStep("gather")
	start := time.Now()
	result, err := p.Run(ctx, runBacktest)
	if err != nil {
		sl.Fail(err.Error())
		return err
	}
	sl.CompleteStep()
	sl.Finish()

	fmt.Printf("run %s: processed=%d skipped=%d degenerate=%d missing_prior=%d malformed=%d (%s)\n",
		result.RunID, result.Counters.MarketsProcessed, result.Counters.MarketsSkipped,
		result.Counters.DegenerateMarkets, result.Counters.MissingPriorContext,
		result.Counters.MalformedInputRecords, humanize.RelTime(start, time.Now(), "", "ago"))

	if explain {
		if err := printDrivers(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// printDrivers renders the ranked driver table for every market's
// latest snapshot, for --explain's plain-output path.
func printDrivers(ctx context.Context, st store.Store) error {
	markets, err := st.ListMarkets(ctx)
	if err != nil {
		return err
	}
	for _, m := range markets {
		snap, err := st.LatestSnapshot(ctx, m.ID)
		if err != nil {
			return err
		}
		if snap == nil {
			continue
		}
		fmt.Println(cliutil.RenderDrivers(snap.Market, snap.Drivers))
	}
	return nil
}

func runBacktest(ctx context.Context, storeKind, dsn, cfgPath, redisAddr string, cacheTTL time.Duration, quiet bool, sweep bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	st, closeFn, err := openStore(storeKind, dsn, redisAddr, cacheTTL)
	if err != nil {
		return err
	}
	defer closeFn()

	sl := cliutil.NewStepLogger([]string{"backtest"}, quiet || !term.IsTerminal(int(os.Stderr.Fd())))
	sl.StartStep("backtest")

	p := pipeline.New(st, cfg, log.Logger)
	reports, err := p.RunBacktest(ctx, sweep)
	if err != nil {
		sl.Fail(err.Error())
		return err
	}
	sl.CompleteStep()
	sl.Finish()

	for _, r := range reports {
		fmt.Printf("cutoff=%dh run=%s brier_market=%.4f brier_crowd=%.4f improvement=%.2f%% markets=%d\n",
			r.CutoffHours, r.RunID, r.BrierMarketMean, r.BrierCrowdMean, r.BrierImprovement*100, len(r.Evaluations))
	}
	return nil
}

func runServe(ctx context.Context, storeKind, dsn, redisAddr string, cacheTTL time.Duration, addr string) error {
	st, closeFn, err := openStore(storeKind, dsn, redisAddr, cacheTTL)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := httpapi.New(st, log.Logger)
	log.Info().Str("addr", addr).Msg("serving crowdwisdom read API")
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runSchedule(ctx context.Context, storeKind, dsn, cfgPath, cronExpr, lockDir string, runBacktest bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	st, closeFn, err := openStore(storeKind, dsn, "", 0)
	if err != nil {
		return err
	}
	defer closeFn()

	p := pipeline.New(st, cfg, log.Logger)
	sup := supervisor.New(lockDir, cronExpr, func(tickCtx context.Context) error {
		_, err := p.Run(tickCtx, runBacktest)
		return err
	}, log.Logger)

	if err := sup.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sup.Stop()
	return nil
}

func runBrowse(ctx context.Context, storeKind, dsn string) error {
	st, closeFn, err := openStore(storeKind, dsn, "", 0)
	if err != nil {
		return err
	}
	defer closeFn()

	m := tui.New(ctx, st)
	_, err = tea.NewProgram(m).Run()
	return err
}
