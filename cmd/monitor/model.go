package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/apexalgo/ticktrader/internal/types"
)

const eventLogSize = 12

// sessionRow is the monitor's view of one live session.
type sessionRow struct {
	accountID string
	strategy  string
	balance   float64
	profit    float64
	lastWon   *bool
	status    string
}

// Model is the Bubble Tea model for the session monitor.
type Model struct {
	url       string
	connected bool
	err       error

	sessions map[string]*sessionRow
	events   []string
	tbl      table.Model

	width  int
	height int
}

// NewModel creates the monitor model for a hub URL.
func NewModel(url string) Model {
	columns := []table.Column{
		{Title: "Account", Width: 16},
		{Title: "Strategy", Width: 10},
		{Title: "Balance", Width: 12},
		{Title: "Profit", Width: 12},
		{Title: "Last", Width: 6},
		{Title: "Status", Width: 16},
	}

	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	return Model{
		url:      url,
		sessions: make(map[string]*sessionRow),
		tbl:      tbl,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case ConnectedMsg:
		m.connected = true
		m.err = nil

	case StreamErrorMsg:
		m.connected = false
		m.err = msg.Err

	case NotificationMsg:
		m.apply(msg.Notification)
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)

	return m, cmd
}

// apply folds one notification into the session table and the event log.
func (m *Model) apply(n types.Notification) {
	row, ok := m.sessions[n.AccountID]
	if !ok {
		row = &sessionRow{accountID: n.AccountID, strategy: n.Strategy}
		m.sessions[n.AccountID] = row
	}

	row.balance = n.Balance
	row.profit = n.Profit

	if n.Won != nil {
		row.lastWon = n.Won
	}

	switch n.Type {
	case types.NotificationCreated:
		row.status = "live"
	case types.NotificationUpdated:
		row.status = "live"
	case types.NotificationStoppedProfit:
		row.status = "stopped: target"
	case types.NotificationStoppedLoss:
		row.status = "stopped: loss"
	case types.NotificationStoppedShield:
		row.status = "stopped: shield"
	}

	event := fmt.Sprintf("%s  %-16s %s",
		n.Time.Format("15:04:05"), n.AccountID, n.Message)
	if n.Message == "" {
		event = fmt.Sprintf("%s  %-16s %s",
			n.Time.Format("15:04:05"), n.AccountID, n.Type)
	}

	m.events = append(m.events, event)
	if len(m.events) > eventLogSize {
		m.events = m.events[len(m.events)-eventLogSize:]
	}

	m.refreshTable()
}

func (m *Model) refreshTable() {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))

	for _, id := range ids {
		s := m.sessions[id]
		rows = append(rows, table.Row{
			s.accountID,
			s.strategy,
			fmt.Sprintf("%.2f", s.balance),
			FormatProfit(s.profit),
			FormatResult(s.lastWon),
			s.status,
		})
	}

	m.tbl.SetRows(rows)
}
