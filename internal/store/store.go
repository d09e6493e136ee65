// Package store defines the abstract store contract the core depends
// on (spec §6.1). The core never imports a concrete driver package;
// internal/store/postgres and internal/store/sqlite provide concrete
// implementations for the rest of this repository to wire together.
package store

import (
	"context"
	"time"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounters is the concrete carrier for the error taxonomy's
// per-run counters (spec §7): nothing is filtered or skipped silently,
// every count here is surfaced by pipeline_run_end.
type RunCounters struct {
	MalformedInputRecords int
	MissingPriorContext   int
	DegenerateMarkets     int
	NumericalOverflows    int
	InvariantViolations   int
	MarketsSkipped        int
	MarketsProcessed       int
}

// Store is the abstract persistence contract the core depends on.
// Implementations must give callers a consistent read view for the
// duration of a single pipeline run (spec §5): no trade arriving
// mid-run may be partially visible to that run's queries.
type Store interface {
	ListMarkets(ctx context.Context) ([]types.Market, error)

	// ListTrades returns a market's trades in chronological order,
	// inclusive of tFrom/tTo when non-nil.
	ListTrades(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Trade, error)

	// ListResolvedTradesForWallet returns every (trade, outcome) pair
	// for a wallet's trades on resolved markets, optionally filtered
	// to a category and/or horizon bucket.
	ListResolvedTradesForWallet(ctx context.Context, wallet string, category, horizon *string) ([]ResolvedTrade, error)

	GetOutcome(ctx context.Context, market string) (*types.Outcome, error)

	UpsertWalletMetrics(ctx context.Context, rows []types.WalletMetric) error
	UpsertWalletWeights(ctx context.Context, rows []types.WalletWeight) error
	AppendSnapshot(ctx context.Context, row types.Snapshot) error
	InsertBacktestReport(ctx context.Context, row types.BacktestReport) error

	PipelineRunBegin(ctx context.Context, kind string) (runID string, err error)
	PipelineRunEnd(ctx context.Context, runID string, status RunStatus, counters RunCounters) error

	// ListSnapshots returns a market's snapshots in instant order,
	// inclusive of tFrom/tTo when non-nil. Used by the read API, not
	// by the core.
	ListSnapshots(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Snapshot, error)
	LatestSnapshot(ctx context.Context, market string) (*types.Snapshot, error)
	GetBacktestReport(ctx context.Context, runID string) (*types.BacktestReport, error)
}

// ResolvedTrade pairs a trade with the outcome of the market it traded
// on, for feature-engine consumption.
type ResolvedTrade struct {
	Trade   types.Trade
	Outcome types.Outcome
}

// Reader is a read-only subset of Store covering markets and outcomes.
// internal/httpapi and internal/cache take the full Store, since they
// also read or write snapshots and backtest reports.
type Reader interface {
	ListMarkets(ctx context.Context) ([]types.Market, error)
	GetOutcome(ctx context.Context, market string) (*types.Outcome, error)
}
