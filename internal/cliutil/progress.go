// Package cliutil holds small terminal helpers shared by cmd/crowdwisdom:
// a step-by-step progress spinner (adapted from the teacher's
// zerolog-backed progress indicator) and a tablewriter-based driver
// listing for plain, non-interactive output.
package cliutil

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/olekukonez/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/wisdomnet/crowdwisdom/internal/types"
)

// StepLogger reports progress through a fixed sequence of named
// pipeline steps (gather, features, weights, snapshot, backtest),
// logging start/finish timing for each via zerolog and printing a
// single-line spinner to stderr when attached to a terminal.
type StepLogger struct {
	mu        sync.Mutex
	steps     []string
	current   int
	startTime time.Time
	stepStart time.Time
	quiet     bool
}

// NewStepLogger builds a StepLogger over steps. quiet suppresses the
// stderr spinner line (used under --quiet or non-TTY output).
func NewStepLogger(steps []string, quiet bool) *StepLogger {
	return &StepLogger{steps: steps, current: -1, startTime: time.Now(), quiet: quiet}
}

// StartStep begins a named step; name must be one of the steps passed
// to NewStepLogger.
func (sl *StepLogger) StartStep(name string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	idx := -1
	for i, s := range sl.steps {
		if s == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		log.Warn().Str("step", name).Msg("unknown pipeline step")
		return
	}
	sl.current = idx
	sl.stepStart = time.Now()

	log.Info().Str("step", name).Int("step_number", idx+1).Int("total_steps", len(sl.steps)).Msg("starting step")
	if !sl.quiet {
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %s...", idx+1, len(sl.steps), name)
	}
}

// CompleteStep logs the elapsed time for the current step.
func (sl *StepLogger) CompleteStep() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current < 0 {
		return
	}
	log.Info().Str("step", sl.steps[sl.current]).Dur("duration", time.Since(sl.stepStart)).Msg("step completed")
}

// Finish logs total elapsed time and clears the spinner line.
func (sl *StepLogger) Finish() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	log.Info().Dur("total_duration", time.Since(sl.startTime)).Msg("pipeline run completed")
	if !sl.quiet {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
}

// Fail logs the failing step and reason.
func (sl *StepLogger) Fail(reason string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	step := "unknown"
	if sl.current >= 0 {
		step = sl.steps[sl.current]
	}
	log.Error().Str("failed_step", step).Str("reason", reason).Msg("pipeline run failed")
	if !sl.quiet {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
}

// RenderDrivers prints a snapshot's ranked driver list as a table, for
// the `run --explain` plain-output path.
func RenderDrivers(market string, drivers []types.Driver) string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"wallet", "weight", "belief", "contribution"})
	for _, d := range drivers {
		table.Append([]string{
			d.Wallet,
			fmt.Sprintf("%.3f", d.Weight),
			fmt.Sprintf("%.3f", d.Belief),
			fmt.Sprintf("%+.4f", d.Contribution),
		})
	}
	table.Render()
	return fmt.Sprintf("drivers for %s:\n%s", market, sb.String())
}
