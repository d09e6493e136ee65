package types

import "time"

// HorizonBucket is the trade-to-resolution gap bucket defined in
// spec §3. It is defined only for resolved markets.
type HorizonBucket string

const (
	HorizonShort  HorizonBucket = "short"  // <= 24h
	HorizonMedium HorizonBucket = "medium" // 24h < gap <= 7d
	HorizonLong   HorizonBucket = "long"   // > 7d
)

// HorizonThresholds configures the short/medium boundary points.
// Defaults are (24h, 7d) per spec §6.2.
type HorizonThresholds struct {
	Short time.Duration
	Medium time.Duration
}

// DefaultHorizonThresholds returns the spec-default (24h, 7d) boundary.
func DefaultHorizonThresholds() HorizonThresholds {
	return HorizonThresholds{Short: 24 * time.Hour, Medium: 7 * 24 * time.Hour}
}

// Bucket classifies a trade-to-resolution gap into its horizon bucket.
func (h HorizonThresholds) Bucket(tradeTime, resolutionTime time.Time) HorizonBucket {
	gap := resolutionTime.Sub(tradeTime)
	switch {
	case gap <= h.Short:
		return HorizonShort
	case gap <= h.Medium:
		return HorizonMedium
	default:
		return HorizonLong
	}
}

// WalletBucketKey identifies a WalletMetric/WalletWeight row.
type WalletBucketKey struct {
	Wallet   string
	Category string // "_all_" or market category
	Horizon  string // "_all_" or HorizonBucket value
}

// AllWalletBucketKeys returns the four bucket keys every wallet gets a
// WalletMetric row for (spec §3): global, (cat,*), (*,hz), (cat,hz).
func AllWalletBucketKeys(wallet, category string, horizon HorizonBucket) []WalletBucketKey {
	return []WalletBucketKey{
		{Wallet: wallet, Category: AllBucket, Horizon: AllBucket},
		{Wallet: wallet, Category: category, Horizon: AllBucket},
		{Wallet: wallet, Category: AllBucket, Horizon: string(horizon)},
		{Wallet: wallet, Category: category, Horizon: string(horizon)},
	}
}
