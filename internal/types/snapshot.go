package types

import "time"

// Driver is one entry in a Snapshot's ranked driver list.
type Driver struct {
	Wallet       string
	Weight       float64
	Belief       float64
	Contribution float64 // signed
}

// FlowSummary is the recent-window trade-flow summary attached to a
// Snapshot (spec §4.4 Step 7).
type FlowSummary struct {
	WindowHours int
	NetYesSize  float64
	TradeCount  int
}

// CohortSummary groups driver contribution by category bucket.
type CohortSummary struct {
	Category         string
	WalletCount      int
	NetContribution  float64
}

// Snapshot is the full per-market analytic record produced at one
// instant. Snapshots are append-only; recomputation writes a new row
// with a fresh instant.
type Snapshot struct {
	Market  string
	Instant time.Time

	MarketProb float64
	CrowdProb  float64
	Divergence float64

	Confidence           float64
	Disagreement         float64
	ParticipationQuality float64
	IntegrityRisk        float64

	ActiveWallets int
	Drivers       []Driver
	Flow          FlowSummary
	Cohorts       []CohortSummary

	Degenerate bool
}
