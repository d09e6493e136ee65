package types

// MarketEvaluation is one resolved market's contribution to a
// BacktestReport.
type MarketEvaluation struct {
	Market            string
	MarketProbAtCutoff float64
	CrowdProbAtCutoff  float64
	Realized           int // 0 or 1
	BrierMarket        float64
	BrierCrowd         float64
}

// EdgeBucket is one band of the |divergence| partition (spec §4.5).
type EdgeBucket struct {
	LowerBound float64
	UpperBound float64 // +Inf represented as 1.0 for the top band (10%-100%)
	Count      int
	MeanEdge   float64
	MeanPnL    float64
	WinRate    float64
}

// BacktestReport is one cutoff's worth of replayed-aggregator scoring.
type BacktestReport struct {
	RunID       string
	CutoffHours int

	Evaluations []MarketEvaluation

	BrierMarketMean  float64
	BrierCrowdMean   float64
	BrierImprovement float64
	LogLossMarket    float64
	LogLossCrowd     float64

	EdgeBuckets []EdgeBucket
}
