package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func newRunID() string { return uuid.NewString() }

func decodeDecimal(s string, dst *decimal.Decimal) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decode numeric %q: %w", s, err)
	}
	*dst = d
	return nil
}

func unmarshalIfPresent(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func scanTrades(rows *sqlx.Rows) ([]types.Trade, error) {
	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var side, action, priceStr, sizeStr string
		if err := rows.Scan(&t.ExternalID, &t.Market, &t.Wallet, &t.Timestamp, &side, &action, &priceStr, &sizeStr); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = types.Side(side)
		t.Action = types.Action(action)
		if err := decodeDecimal(priceStr, &t.Price); err != nil {
			return nil, err
		}
		if err := decodeDecimal(sizeStr, &t.Size); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanSnapshots(rows *sqlx.Rows) ([]types.Snapshot, error) {
	var out []types.Snapshot
	for rows.Next() {
		var snap types.Snapshot
		var drivers, flow, cohorts []byte
		if err := rows.Scan(&snap.Market, &snap.Instant, &snap.MarketProb, &snap.CrowdProb, &snap.Divergence,
			&snap.Confidence, &snap.Disagreement, &snap.ParticipationQuality, &snap.IntegrityRisk,
			&snap.ActiveWallets, &snap.Degenerate, &drivers, &flow, &cohorts); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := unmarshalIfPresent(drivers, &snap.Drivers); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(flow, &snap.Flow); err != nil {
			return nil, err
		}
		if err := unmarshalIfPresent(cohorts, &snap.Cohorts); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
