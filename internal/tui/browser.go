// Package tui implements a charmbracelet/bubbletea terminal viewer
// over the most recent Snapshots and their driver lists (spec §6.3's
// "browse" subcommand), styled with lipgloss.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wisdomnet/crowdwisdom/internal/store"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	selectedRow  = lipgloss.NewStyle().Background(lipgloss.Color("237")).Foreground(lipgloss.Color("255"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	positiveEdge = lipgloss.NewStyle().Foreground(lipgloss.Color("green"))
	negativeEdge = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
)

// Model is the bubbletea model for the snapshot browser: a list of
// markets on the left, the selected market's latest snapshot (with
// its ranked drivers) on the right.
type Model struct {
	st     store.Store
	ctx    context.Context
	cursor int

	markets   []types.Market
	snapshots map[string]*types.Snapshot
	err       error
}

// New builds a browser Model over st. Call tea.NewProgram(New(...)).Run().
func New(ctx context.Context, st store.Store) Model {
	return Model{st: st, ctx: ctx, snapshots: map[string]*types.Snapshot{}}
}

func (m Model) Init() tea.Cmd {
	return m.load
}

type loadedMsg struct {
	markets   []types.Market
	snapshots map[string]*types.Snapshot
	err       error
}

func (m Model) load() tea.Msg {
	markets, err := m.st.ListMarkets(m.ctx)
	if err != nil {
		return loadedMsg{err: err}
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	snaps := make(map[string]*types.Snapshot, len(markets))
	for _, mk := range markets {
		snap, err := m.st.LatestSnapshot(m.ctx, mk.ID)
		if err != nil {
			return loadedMsg{err: err}
		}
		snaps[mk.ID] = snap
	}
	return loadedMsg{markets: markets, snapshots: snaps}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		m.markets = msg.markets
		m.snapshots = msg.snapshots
		m.err = msg.err
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.markets)-1 {
				m.cursor++
			}
		case "r":
			return m, m.load
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error loading snapshots: %v\n", m.err)
	}
	if len(m.markets) == 0 {
		return "no markets to show\n"
	}

	var left strings.Builder
	left.WriteString(headerStyle.Render("markets") + "\n")
	for i, mk := range m.markets {
		line := mk.ID
		if i == m.cursor {
			line = selectedRow.Render("> " + line)
		} else {
			line = "  " + line
		}
		left.WriteString(line + "\n")
	}

	selected := m.markets[m.cursor]
	snap := m.snapshots[selected.ID]

	var right strings.Builder
	right.WriteString(headerStyle.Render(fmt.Sprintf("snapshot: %s", selected.ID)) + "\n")
	if snap == nil {
		right.WriteString(mutedStyle.Render("no snapshot yet") + "\n")
	} else {
		right.WriteString(fmt.Sprintf("crowd_prob=%.3f market_prob=%.3f divergence=%.3f\n", snap.CrowdProb, snap.MarketProb, snap.Divergence))
		right.WriteString(fmt.Sprintf("confidence=%.3f integrity_risk=%.3f active_wallets=%d\n", snap.Confidence, snap.IntegrityRisk, snap.ActiveWallets))
		right.WriteString(headerStyle.Render("drivers") + "\n")
		for _, d := range snap.Drivers {
			style := positiveEdge
			if d.Contribution < 0 {
				style = negativeEdge
			}
			right.WriteString(fmt.Sprintf("  %-16s weight=%.2f belief=%.2f %s\n", d.Wallet, d.Weight, d.Belief, style.Render(fmt.Sprintf("contrib=%+.3f", d.Contribution))))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, left.String(), "   ", right.String()) + "\n" + mutedStyle.Render("↑/↓ select · r refresh · q quit") + "\n"
}
