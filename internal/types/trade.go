package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the position side a trade takes.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Action is whether the trade opened or closed exposure.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Trade is an immutable, exactly-once (by ExternalID) trade fill.
// Price and Size are carried as decimal.Decimal at the record boundary
// so that externally-supplied values round-trip through storage without
// binary-float drift; feature/belief math converts to float64 at the
// point of computation (see PriceFloat/SizeFloat).
type Trade struct {
	ExternalID     string
	Market         string
	Wallet         string
	Timestamp      time.Time
	Side           Side
	Action         Action
	Price          decimal.Decimal
	Size           decimal.Decimal
	Aggressiveness *float64
	MakerTaker     *string
	Raw            map[string]any
}

// PriceFloat returns Price as a float64 for use in numerical models.
func (t Trade) PriceFloat() float64 {
	f, _ := t.Price.Float64()
	return f
}

// SizeFloat returns Size as a float64 for use in numerical models.
func (t Trade) SizeFloat() float64 {
	f, _ := t.Size.Float64()
	return f
}

// Valid reports whether the trade satisfies the record-level
// invariants from spec §3: size > 0, price in [0, 1]. Anything that
// fails this is a MalformedInputRecord and is filtered upstream, never
// constructed into a Trade that participates in F/B/A.
func (t Trade) Valid() bool {
	if t.Size.Sign() <= 0 {
		return false
	}
	if t.Price.LessThan(decimal.Zero) || t.Price.GreaterThan(decimal.NewFromInt(1)) {
		return false
	}
	switch t.Side {
	case SideYes, SideNo:
	default:
		return false
	}
	switch t.Action {
	case ActionBuy, ActionSell:
	default:
		return false
	}
	return true
}

// YesBelief is the instantaneous YES-belief the wallet revealed by
// taking this position (spec §4.1):
//
//	price         if (side=YES, action=BUY) or (side=NO, action=SELL)
//	1 - price     otherwise
func (t Trade) YesBelief() float64 {
	p := t.PriceFloat()
	if (t.Side == SideYes && t.Action == ActionBuy) || (t.Side == SideNo && t.Action == ActionSell) {
		return p
	}
	return 1 - p
}

// SideSign is +1 for YES BUY / NO SELL, -1 otherwise (spec §4.1 roi_proxy).
func (t Trade) SideSign() float64 {
	if (t.Side == SideYes && t.Action == ActionBuy) || (t.Side == SideNo && t.Action == ActionSell) {
		return 1
	}
	return -1
}

// DeriveExternalID computes the deterministic content-hash external id
// used when an ingestion source does not supply one (spec §3).
func DeriveExternalID(market, wallet string, ts time.Time, side Side, action Action, price, size decimal.Decimal) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s|%s", market, wallet, ts.UTC().UnixNano(), side, action, price.String(), size.String())
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Outcome is present iff a market is considered resolved for analytics
// purposes.
type Outcome struct {
	Market         string
	ResolvedOutcome int // 0 (NO) or 1 (YES)
	ResolutionTime time.Time
}

// ResolvedOutcomeFloat returns the outcome as 0.0/1.0 for scoring math.
func (o Outcome) ResolvedOutcomeFloat() float64 {
	return float64(o.ResolvedOutcome)
}
