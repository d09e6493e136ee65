// Package sqlite implements the core's Store contract against a
// pure-Go SQLite database (modernc.org/sqlite), for single-binary
// deployments that don't want a PostgreSQL dependency.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// Store implements store.Store against SQLite via the modernc.org/sqlite
// driver, registered under the "sqlite" database/sql driver name.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) a SQLite database file at path and
// applies Schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under concurrent Upserts
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Schema is the DDL applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	end_time DATETIME NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	liquidity REAL,
	resolution_source TEXT
);

CREATE TABLE IF NOT EXISTS outcomes (
	market TEXT PRIMARY KEY REFERENCES markets(id),
	outcome INTEGER NOT NULL,
	resolution_time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	external_id TEXT PRIMARY KEY,
	market TEXT NOT NULL REFERENCES markets(id),
	wallet TEXT NOT NULL,
	ts DATETIME NOT NULL,
	side TEXT NOT NULL,
	action TEXT NOT NULL,
	price TEXT NOT NULL,
	size TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_market_ts_idx ON trades (market, ts);
CREATE INDEX IF NOT EXISTS trades_wallet_idx ON trades (wallet);

CREATE TABLE IF NOT EXISTS wallet_metrics (
	wallet TEXT NOT NULL,
	category TEXT NOT NULL,
	horizon TEXT NOT NULL,
	sample_size INTEGER NOT NULL,
	brier REAL NOT NULL,
	calibration_error REAL NOT NULL,
	roi_proxy REAL NOT NULL,
	avg_size REAL NOT NULL,
	churn REAL NOT NULL,
	persistence REAL NOT NULL,
	specialization REAL NOT NULL,
	timing_edge REAL NOT NULL,
	PRIMARY KEY (wallet, category, horizon)
);

CREATE TABLE IF NOT EXISTS wallet_weights (
	wallet TEXT NOT NULL,
	category TEXT NOT NULL,
	horizon TEXT NOT NULL,
	weight REAL NOT NULL,
	uncertainty REAL NOT NULL,
	raw_edge REAL NOT NULL,
	shrunk_edge REAL NOT NULL,
	support INTEGER NOT NULL,
	PRIMARY KEY (wallet, category, horizon)
);

CREATE TABLE IF NOT EXISTS snapshots (
	market TEXT NOT NULL REFERENCES markets(id),
	instant DATETIME NOT NULL,
	market_prob REAL NOT NULL,
	crowd_prob REAL NOT NULL,
	divergence REAL NOT NULL,
	confidence REAL NOT NULL,
	disagreement REAL NOT NULL,
	participation_quality REAL NOT NULL,
	integrity_risk REAL NOT NULL,
	active_wallets INTEGER NOT NULL,
	degenerate INTEGER NOT NULL,
	drivers TEXT,
	flow TEXT,
	cohorts TEXT,
	PRIMARY KEY (market, instant)
);

CREATE TABLE IF NOT EXISTS backtest_reports (
	run_id TEXT PRIMARY KEY,
	cutoff_hours INTEGER NOT NULL,
	brier_market_mean REAL NOT NULL,
	brier_crowd_mean REAL NOT NULL,
	brier_improvement REAL NOT NULL,
	log_loss_market REAL NOT NULL,
	log_loss_crowd REAL NOT NULL,
	evaluations TEXT,
	edge_buckets TEXT
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT,
	counters TEXT,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at DATETIME
);
`

func (s *Store) ListMarkets(ctx context.Context) ([]types.Market, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, question, end_time, category, liquidity, resolution_source FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var out []types.Market
	for rows.Next() {
		var m types.Market
		var liquidity sql.NullFloat64
		var source sql.NullString
		if err := rows.Scan(&m.ID, &m.Question, &m.EndTime, &m.Category, &liquidity, &source); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		if liquidity.Valid {
			v := liquidity.Float64
			m.Liquidity = &v
		}
		if source.Valid {
			v := source.String
			m.ResolutionSource = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListTrades(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Trade, error) {
	query := `SELECT external_id, market, wallet, ts, side, action, price, size FROM trades WHERE market = ?`
	args := []interface{}{market}
	if tFrom != nil {
		query += " AND ts >= ?"
		args = append(args, *tFrom)
	}
	if tTo != nil {
		query += " AND ts <= ?"
		args = append(args, *tTo)
	}
	query += " ORDER BY ts ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *Store) ListResolvedTradesForWallet(ctx context.Context, wallet string, category, horizon *string) ([]store.ResolvedTrade, error) {
	query := `
		SELECT t.external_id, t.market, t.wallet, t.ts, t.side, t.action, t.price, t.size,
		       o.market, o.outcome, o.resolution_time
		FROM trades t
		JOIN outcomes o ON o.market = t.market
		JOIN markets m ON m.id = t.market
		WHERE t.wallet = ?`
	args := []interface{}{wallet}
	if category != nil {
		query += " AND COALESCE(NULLIF(m.category, ''), '_all_') = ?"
		args = append(args, *category)
	}
	_ = horizon
	query += " ORDER BY t.ts ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resolved trades for wallet: %w", err)
	}
	defer rows.Close()

	var out []store.ResolvedTrade
	for rows.Next() {
		var rt store.ResolvedTrade
		var side, action, priceStr, sizeStr string
		if err := rows.Scan(&rt.Trade.ExternalID, &rt.Trade.Market, &rt.Trade.Wallet, &rt.Trade.Timestamp,
			&side, &action, &priceStr, &sizeStr, &rt.Outcome.Market, &rt.Outcome.ResolvedOutcome, &rt.Outcome.ResolutionTime); err != nil {
			return nil, fmt.Errorf("scan resolved trade: %w", err)
		}
		rt.Trade.Side = types.Side(side)
		rt.Trade.Action = types.Action(action)
		if err := decodeDecimal(priceStr, &rt.Trade.Price); err != nil {
			return nil, err
		}
		if err := decodeDecimal(sizeStr, &rt.Trade.Size); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (s *Store) GetOutcome(ctx context.Context, market string) (*types.Outcome, error) {
	var o types.Outcome
	err := s.db.QueryRowxContext(ctx, `SELECT market, outcome, resolution_time FROM outcomes WHERE market = ?`, market).
		Scan(&o.Market, &o.ResolvedOutcome, &o.ResolutionTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	return &o, nil
}

func (s *Store) UpsertWalletMetrics(ctx context.Context, rows []types.WalletMetric) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert wallet metrics: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallet_metrics (wallet, category, horizon, sample_size, brier, calibration_error, roi_proxy, avg_size, churn, persistence, specialization, timing_edge)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (wallet, category, horizon) DO UPDATE SET
			sample_size=excluded.sample_size, brier=excluded.brier, calibration_error=excluded.calibration_error,
			roi_proxy=excluded.roi_proxy, avg_size=excluded.avg_size, churn=excluded.churn,
			persistence=excluded.persistence, specialization=excluded.specialization, timing_edge=excluded.timing_edge`)
	if err != nil {
		return fmt.Errorf("prepare upsert wallet metrics: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Key.Wallet, r.Key.Category, r.Key.Horizon, r.SampleSize, r.Brier,
			r.CalibrationError, r.ROIProxy, r.AvgSize, r.Churn, r.Persistence, r.Specialization, r.TimingEdge); err != nil {
			return fmt.Errorf("upsert wallet metric: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpsertWalletWeights(ctx context.Context, rows []types.WalletWeight) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert wallet weights: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallet_weights (wallet, category, horizon, weight, uncertainty, raw_edge, shrunk_edge, support)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (wallet, category, horizon) DO UPDATE SET
			weight=excluded.weight, uncertainty=excluded.uncertainty, raw_edge=excluded.raw_edge,
			shrunk_edge=excluded.shrunk_edge, support=excluded.support`)
	if err != nil {
		return fmt.Errorf("prepare upsert wallet weights: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Key.Wallet, r.Key.Category, r.Key.Horizon, r.Weight, r.Uncertainty, r.RawEdge, r.ShrunkEdge, r.Support); err != nil {
			return fmt.Errorf("upsert wallet weight: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) AppendSnapshot(ctx context.Context, row types.Snapshot) error {
	drivers, err := json.Marshal(row.Drivers)
	if err != nil {
		return fmt.Errorf("marshal drivers: %w", err)
	}
	flow, err := json.Marshal(row.Flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	cohorts, err := json.Marshal(row.Cohorts)
	if err != nil {
		return fmt.Errorf("marshal cohorts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (market, instant, market_prob, crowd_prob, divergence, confidence, disagreement,
			participation_quality, integrity_risk, active_wallets, degenerate, drivers, flow, cohorts)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		row.Market, row.Instant, row.MarketProb, row.CrowdProb, row.Divergence, row.Confidence, row.Disagreement,
		row.ParticipationQuality, row.IntegrityRisk, row.ActiveWallets, row.Degenerate, drivers, flow, cohorts)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Snapshot, error) {
	query := `SELECT market, instant, market_prob, crowd_prob, divergence, confidence, disagreement,
		participation_quality, integrity_risk, active_wallets, degenerate, drivers, flow, cohorts
		FROM snapshots WHERE market = ?`
	args := []interface{}{market}
	if tFrom != nil {
		query += " AND instant >= ?"
		args = append(args, *tFrom)
	}
	if tTo != nil {
		query += " AND instant <= ?"
		args = append(args, *tTo)
	}
	query += " ORDER BY instant ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func (s *Store) LatestSnapshot(ctx context.Context, market string) (*types.Snapshot, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT market, instant, market_prob, crowd_prob, divergence, confidence, disagreement,
		participation_quality, integrity_risk, active_wallets, degenerate, drivers, flow, cohorts
		FROM snapshots WHERE market = ? ORDER BY instant DESC LIMIT 1`, market)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	defer rows.Close()
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

func (s *Store) InsertBacktestReport(ctx context.Context, row types.BacktestReport) error {
	evals, err := json.Marshal(row.Evaluations)
	if err != nil {
		return fmt.Errorf("marshal evaluations: %w", err)
	}
	buckets, err := json.Marshal(row.EdgeBuckets)
	if err != nil {
		return fmt.Errorf("marshal edge buckets: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_reports (run_id, cutoff_hours, brier_market_mean, brier_crowd_mean, brier_improvement, log_loss_market, log_loss_crowd, evaluations, edge_buckets)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (run_id) DO UPDATE SET
			cutoff_hours=excluded.cutoff_hours, brier_market_mean=excluded.brier_market_mean,
			brier_crowd_mean=excluded.brier_crowd_mean, brier_improvement=excluded.brier_improvement,
			log_loss_market=excluded.log_loss_market, log_loss_crowd=excluded.log_loss_crowd,
			evaluations=excluded.evaluations, edge_buckets=excluded.edge_buckets`,
		row.RunID, row.CutoffHours, row.BrierMarketMean, row.BrierCrowdMean, row.BrierImprovement, row.LogLossMarket, row.LogLossCrowd, evals, buckets)
	if err != nil {
		return fmt.Errorf("insert backtest report: %w", err)
	}
	return nil
}

func (s *Store) GetBacktestReport(ctx context.Context, runID string) (*types.BacktestReport, error) {
	var row types.BacktestReport
	var evals, buckets []byte
	err := s.db.QueryRowxContext(ctx, `SELECT run_id, cutoff_hours, brier_market_mean, brier_crowd_mean, brier_improvement,
		log_loss_market, log_loss_crowd, evaluations, edge_buckets FROM backtest_reports WHERE run_id = ?`, runID).
		Scan(&row.RunID, &row.CutoffHours, &row.BrierMarketMean, &row.BrierCrowdMean, &row.BrierImprovement,
			&row.LogLossMarket, &row.LogLossCrowd, &evals, &buckets)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backtest report: %w", err)
	}
	if err := unmarshalIfPresent(evals, &row.Evaluations); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(buckets, &row.EdgeBuckets); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) PipelineRunBegin(ctx context.Context, kind string) (string, error) {
	id := newRunID()
	_, err := s.db.ExecContext(ctx, `INSERT INTO pipeline_runs (run_id, kind) VALUES (?, ?)`, id, kind)
	if err != nil {
		return "", fmt.Errorf("pipeline run begin: %w", err)
	}
	return id, nil
}

func (s *Store) PipelineRunEnd(ctx context.Context, runID string, status store.RunStatus, counters store.RunCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pipeline_runs SET status = ?, counters = ?, ended_at = CURRENT_TIMESTAMP WHERE run_id = ?`,
		string(status), countersJSON, runID)
	if err != nil {
		return fmt.Errorf("pipeline run end: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pipeline run end rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("unknown run id %s", runID)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
