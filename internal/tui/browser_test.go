package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/crowdwisdom/internal/store/memory"
	"github.com/wisdomnet/crowdwisdom/internal/types"
)

func TestModel_LoadPopulatesMarketsAndSnapshots(t *testing.T) {
	st := memory.New()
	st.SeedMarket(types.Market{ID: "m1", Question: "q1"})
	st.SeedMarket(types.Market{ID: "m2", Question: "q2"})

	m := New(context.Background(), st)
	msg := m.load()
	loaded, ok := msg.(loadedMsg)
	require.True(t, ok)
	require.NoError(t, loaded.err)
	assert.Len(t, loaded.markets, 2)
}

func TestModel_CursorMovementStaysInBounds(t *testing.T) {
	m := Model{markets: []types.Market{{ID: "a"}, {ID: "b"}, {ID: "c"}}, snapshots: map[string]*types.Snapshot{}}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor, "cursor must not go negative")
}

func TestModel_QuitKeyReturnsQuitCmd(t *testing.T) {
	m := Model{markets: []types.Market{{ID: "a"}}, snapshots: map[string]*types.Snapshot{}}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
}

func TestModel_ViewRendersWithoutPanicOnEmptyMarkets(t *testing.T) {
	m := Model{}
	assert.Contains(t, m.View(), "no markets")
}
