// Package postgres implements the core's Store contract against
// PostgreSQL using sqlx and lib/pq, in the persistence-repo style
// this codebase carries over from its predecessor.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// Store implements store.Store against a PostgreSQL database.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an already-connected sqlx.DB. Callers own the connection
// lifecycle; Store never calls sqlx.Connect itself.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// Schema is the DDL this adapter expects. Callers apply it with their
// own migration tool; Store never runs DDL itself.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                 TEXT PRIMARY KEY,
	question           TEXT NOT NULL,
	end_time           TIMESTAMPTZ NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	liquidity          DOUBLE PRECISION,
	resolution_source  TEXT
);

CREATE TABLE IF NOT EXISTS outcomes (
	market          TEXT PRIMARY KEY REFERENCES markets(id),
	outcome         SMALLINT NOT NULL,
	resolution_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	external_id TEXT PRIMARY KEY,
	market      TEXT NOT NULL REFERENCES markets(id),
	wallet      TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	side        TEXT NOT NULL,
	action      TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	size        NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_market_ts_idx ON trades (market, ts);
CREATE INDEX IF NOT EXISTS trades_wallet_idx ON trades (wallet);

CREATE TABLE IF NOT EXISTS wallet_metrics (
	wallet            TEXT NOT NULL,
	category          TEXT NOT NULL,
	horizon           TEXT NOT NULL,
	sample_size       INT NOT NULL,
	brier             DOUBLE PRECISION NOT NULL,
	calibration_error DOUBLE PRECISION NOT NULL,
	roi_proxy         DOUBLE PRECISION NOT NULL,
	avg_size          DOUBLE PRECISION NOT NULL,
	churn             DOUBLE PRECISION NOT NULL,
	persistence       DOUBLE PRECISION NOT NULL,
	specialization    DOUBLE PRECISION NOT NULL,
	timing_edge       DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (wallet, category, horizon)
);

CREATE TABLE IF NOT EXISTS wallet_weights (
	wallet      TEXT NOT NULL,
	category    TEXT NOT NULL,
	horizon     TEXT NOT NULL,
	weight      DOUBLE PRECISION NOT NULL,
	uncertainty DOUBLE PRECISION NOT NULL,
	raw_edge    DOUBLE PRECISION NOT NULL,
	shrunk_edge DOUBLE PRECISION NOT NULL,
	support     INT NOT NULL,
	PRIMARY KEY (wallet, category, horizon)
);

CREATE TABLE IF NOT EXISTS snapshots (
	market                TEXT NOT NULL REFERENCES markets(id),
	instant               TIMESTAMPTZ NOT NULL,
	market_prob           DOUBLE PRECISION NOT NULL,
	crowd_prob            DOUBLE PRECISION NOT NULL,
	divergence            DOUBLE PRECISION NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	disagreement          DOUBLE PRECISION NOT NULL,
	participation_quality DOUBLE PRECISION NOT NULL,
	integrity_risk        DOUBLE PRECISION NOT NULL,
	active_wallets        INT NOT NULL,
	degenerate            BOOLEAN NOT NULL,
	drivers               JSONB,
	flow                  JSONB,
	cohorts               JSONB,
	PRIMARY KEY (market, instant)
);

CREATE TABLE IF NOT EXISTS backtest_reports (
	run_id            TEXT PRIMARY KEY,
	cutoff_hours      INT NOT NULL,
	brier_market_mean DOUBLE PRECISION NOT NULL,
	brier_crowd_mean  DOUBLE PRECISION NOT NULL,
	brier_improvement DOUBLE PRECISION NOT NULL,
	log_loss_market   DOUBLE PRECISION NOT NULL,
	log_loss_crowd    DOUBLE PRECISION NOT NULL,
	evaluations       JSONB,
	edge_buckets      JSONB
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT,
	counters    JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at    TIMESTAMPTZ
);
`

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ListMarkets(ctx context.Context) ([]types.Market, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, question, end_time, category, liquidity, resolution_source
		FROM markets ORDER BY id`)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT external_id, market, wallet, ts, side, action, price, size
		FROM trades WHERE market = $1`
	args := []interface{}{market}
	if tFrom != nil {
		args = append(args, *tFrom)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if tTo != nil {
		args = append(args, *tTo)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT t.external_id, t.market, t.wallet, t.ts, t.side, t.action, t.price, t.size,
		       o.market, o.outcome, o.resolution_time
		FROM trades t
		JOIN outcomes o ON o.market = t.market
		JOIN markets m ON m.id = t.market
		WHERE t.wallet = $1`
	args := []interface{}{wallet}
	if category != nil {
		args = append(args, *category)
		query += fmt.Sprintf(" AND COALESCE(NULLIF(m.category, ''), '_all_') = $%d", len(args))
	}
	_ = horizon // horizon bucketing depends on per-trade lag; computed by the caller, not filtered in SQL
	query += " ORDER BY t.ts ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resolved trades for wallet: %w", err)
	}
	defer rows.Close()

	var out []store.ResolvedTrade
	for rows.Next() {
		var rt store.ResolvedTrade
		var priceStr, sizeStr string
		var side, action string
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var o types.Outcome
	err := s.db.QueryRowxContext(ctx, `SELECT market, outcome, resolution_time FROM outcomes WHERE market = $1`, market).
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert wallet metrics: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallet_metrics (wallet, category, horizon, sample_size, brier, calibration_error, roi_proxy, avg_size, churn, persistence, specialization, timing_edge)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (wallet, category, horizon) DO UPDATE SET
			sample_size = EXCLUDED.sample_size, brier = EXCLUDED.brier, calibration_error = EXCLUDED.calibration_error,
			roi_proxy = EXCLUDED.roi_proxy, avg_size = EXCLUDED.avg_size, churn = EXCLUDED.churn,
			persistence = EXCLUDED.persistence, specialization = EXCLUDED.specialization, timing_edge = EXCLUDED.timing_edge`)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert wallet weights: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallet_weights (wallet, category, horizon, weight, uncertainty, raw_edge, shrunk_edge, support)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (wallet, category, horizon) DO UPDATE SET
			weight = EXCLUDED.weight, uncertainty = EXCLUDED.uncertainty, raw_edge = EXCLUDED.raw_edge,
			shrunk_edge = EXCLUDED.shrunk_edge, support = EXCLUDED.support`)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		row.Market, row.Instant, row.MarketProb, row.CrowdProb, row.Divergence, row.Confidence, row.Disagreement,
		row.ParticipationQuality, row.IntegrityRisk, row.ActiveWallets, row.Degenerate, drivers, flow, cohorts)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("snapshot already exists for this instant: %w", err)
		}
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, market string, tFrom, tTo *time.Time) ([]types.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT market, instant, market_prob, crowd_prob, divergence, confidence, disagreement,
		participation_quality, integrity_risk, active_wallets, degenerate, drivers, flow, cohorts
		FROM snapshots WHERE market = $1`
	args := []interface{}{market}
	if tFrom != nil {
		args = append(args, *tFrom)
		query += fmt.Sprintf(" AND instant >= $%d", len(args))
	}
	if tTo != nil {
		args = append(args, *tTo)
		query += fmt.Sprintf(" AND instant <= $%d", len(args))
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `SELECT market, instant, market_prob, crowd_prob, divergence, confidence, disagreement,
		participation_quality, integrity_risk, active_wallets, degenerate, drivers, flow, cohorts
		FROM snapshots WHERE market = $1 ORDER BY instant DESC LIMIT 1`, market)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (run_id) DO UPDATE SET
			cutoff_hours = EXCLUDED.cutoff_hours, brier_market_mean = EXCLUDED.brier_market_mean,
			brier_crowd_mean = EXCLUDED.brier_crowd_mean, brier_improvement = EXCLUDED.brier_improvement,
			log_loss_market = EXCLUDED.log_loss_market, log_loss_crowd = EXCLUDED.log_loss_crowd,
			evaluations = EXCLUDED.evaluations, edge_buckets = EXCLUDED.edge_buckets`,
		row.RunID, row.CutoffHours, row.BrierMarketMean, row.BrierCrowdMean, row.BrierImprovement, row.LogLossMarket, row.LogLossCrowd, evals, buckets)
	if err != nil {
		return fmt.Errorf("insert backtest report: %w", err)
	}
	return nil
}

func (s *Store) GetBacktestReport(ctx context.Context, runID string) (*types.BacktestReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row types.BacktestReport
	var evals, buckets []byte
	err := s.db.QueryRowxContext(ctx, `SELECT run_id, cutoff_hours, brier_market_mean, brier_crowd_mean, brier_improvement,
		log_loss_market, log_loss_crowd, evaluations, edge_buckets FROM backtest_reports WHERE run_id = $1`, runID).
		Scan(&row.RunID, &row.CutoffHours, &row.BrierMarketMean, &row.BrierCrowdMean, &row.BrierImprovement,
			&row.LogLossMarket, &row.LogLossCrowd, &evals, &buckets)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backtest report: %w", err)
	}
	if len(evals) > 0 {
		if err := json.Unmarshal(evals, &row.Evaluations); err != nil {
			return nil, fmt.Errorf("unmarshal evaluations: %w", err)
		}
	}
	if len(buckets) > 0 {
		if err := json.Unmarshal(buckets, &row.EdgeBuckets); err != nil {
			return nil, fmt.Errorf("unmarshal edge buckets: %w", err)
		}
	}
	return &row, nil
}

func (s *Store) PipelineRunBegin(ctx context.Context, kind string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var runID string
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO pipeline_runs (run_id, kind) VALUES (gen_random_uuid()::text, $1) RETURNING run_id`, kind).
		Scan(&runID)
	if err != nil {
		return "", fmt.Errorf("pipeline run begin: %w", err)
	}
	return runID, nil
}

func (s *Store) PipelineRunEnd(ctx context.Context, runID string, status store.RunStatus, counters store.RunCounters) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = $2, counters = $3, ended_at = now() WHERE run_id = $1`,
		runID, string(status), countersJSON)
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
