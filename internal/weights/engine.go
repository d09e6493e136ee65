// Package weights implements component W: conversion of a
// WalletMetric row into a bounded, support-aware trust weight with an
// uncertainty estimate (spec §4.2). W is a pure function of its input
// rows.
package weights

import (
	"math"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// uninformedBrier is the Brier score of a maximally uninformed
// predictor on a balanced binary outcome; positive raw_edge indicates
// skill relative to it.
const uninformedBrier = 0.25

// Compute derives a WalletWeight for every input WalletMetric row,
// shrinking each bucket's edge toward the wallet's own global
// ("_all_","_all_") edge as its prior (spec §4.2, §9: "keep this by
// design").
func Compute(metrics []types.WalletMetric, priorStrength float64) []types.WalletWeight {
	priorEdge := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		if m.Key.Category == types.AllBucket && m.Key.Horizon == types.AllBucket {
			priorEdge[m.Key.Wallet] = uninformedBrier - m.Brier
		}
	}

	rows := make([]types.WalletWeight, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, computeRow(m, priorEdge[m.Key.Wallet], priorStrength))
	}
	return rows
}

func computeRow(m types.WalletMetric, prior float64, kappa float64) types.WalletWeight {
	n := float64(m.SampleSize)
	rawEdge := uninformedBrier - m.Brier

	alpha := n / (n + kappa)
	shrunkEdge := alpha*rawEdge + (1-alpha)*prior

	base := math.Max(0, shrunkEdge*4)

	churnPenalty := clamp(1-m.Churn, 0.25, 1)
	calibrationPenalty := clamp(1-2*m.CalibrationError, 0.25, 1)

	specializationBoost := 1.0
	if m.Key.Category != types.AllBucket {
		specializationBoost = clamp(1+0.5*m.Specialization, 1, 2)
	}

	timingBoost := clamp(1+2*math.Max(0, m.TimingEdge), 1, 2)

	weight := clamp(base*churnPenalty*calibrationPenalty*specializationBoost*timingBoost, 0, 4)

	uncertainty := clamp(m.CalibrationError+1/math.Sqrt(n+1), 0, 1)

	return types.WalletWeight{
		Key:         m.Key,
		Weight:      weight,
		Uncertainty: uncertainty,
		RawEdge:     rawEdge,
		ShrunkEdge:  shrunkEdge,
		Support:     m.SampleSize,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
