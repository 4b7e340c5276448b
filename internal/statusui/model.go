// Package statusui implements an optional live terminal dashboard for
// the bridge, shown when main is invoked with --ui. It renders the
// current sink table and NDP proxy cache sizes on a fixed refresh tick,
// built around a stats snapshot polled on a ticker rather than pushed.
package statusui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SinkRow is one row of the dashboard: a snapshot of a single attached
// sink, supplied by the bridge core on each refresh tick.
type SinkRow struct {
	SinkID    string
	Subnet    string
	HostAddr  string
	NdpCached int
}

// Snapshot returns the current set of rows to display. The bridge core
// supplies an implementation backed by its sink table.
type Snapshot func() []SinkRow

type tickMsg time.Time

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	snapshot Snapshot
	refresh  time.Duration
	table    table.Model
}

// New builds a dashboard model that polls snapshot every refresh
// interval.
func New(snapshot Snapshot, refresh time.Duration) Model {
	columns := []table.Column{
		{Title: "Sink", Width: 16},
		{Title: "Subnet", Width: 28},
		{Title: "Host Address", Width: 28},
		{Title: "NDP Cached", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(15),
	)
	style := table.DefaultStyles()
	style.Header = style.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	style.Selected = style.Selected.Foreground(lipgloss.Color("229"))
	t.SetStyles(style)

	return Model{snapshot: snapshot, refresh: refresh, table: t}
}

func (m Model) Init() tea.Cmd {
	return tickCmd(m.refresh)
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.table.SetRows(rowsFor(m.snapshot()))
		return m, tickCmd(m.refresh)
	}
	return m, nil
}

func rowsFor(rows []SinkRow) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, table.Row{
			r.SinkID,
			r.Subnet,
			r.HostAddr,
			fmt.Sprintf("%d", r.NdpCached),
		})
	}
	return out
}

func (m Model) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("wirepas-ipv6-bridge — sink status")
	footer := lipgloss.NewStyle().Faint(true).Render("q to quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s\n", header, m.table.View(), footer)
}
