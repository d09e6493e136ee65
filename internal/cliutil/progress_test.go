package cliutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func TestStepLogger_TracksCurrentStep(t *testing.T) {
	sl := NewStepLogger([]string{"gather", "features", "weights"}, true)
	sl.StartStep("gather")
	assert.Equal(t, 0, sl.current)
	sl.CompleteStep()

	sl.StartStep("weights")
	assert.Equal(t, 2, sl.current)
}

func TestStepLogger_UnknownStepLeavesCurrentUnchanged(t *testing.T) {
	sl := NewStepLogger([]string{"gather"}, true)
	sl.StartStep("gather")
	sl.StartStep("nonexistent")
	assert.Equal(t, 0, sl.current)
}

func TestRenderDrivers_IncludesMarketAndWalletRows(t *testing.T) {
	out := RenderDrivers("m1", []types.Driver{
		{Wallet: "0xabc", Weight: 0.5, Belief: 0.8, Contribution: 0.12},
		{Wallet: "0xdef", Weight: 0.3, Belief: 0.2, Contribution: -0.05},
	})
	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "0xdef")
}
