package main

import (
	"fmt"
	"strings"
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("ticktrader session monitor"))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("stream error: %v (reconnecting)", m.err)))
	case m.connected:
		b.WriteString(HelpStyle.Render(fmt.Sprintf("connected to %s", m.url)))
	default:
		b.WriteString(HelpStyle.Render(fmt.Sprintf("connecting to %s ...", m.url)))
	}

	b.WriteString("\n\n")
	b.WriteString(m.tbl.View())
	b.WriteString("\n\n")

	if len(m.events) > 0 {
		b.WriteString(TitleStyle.Render("Events"))
		b.WriteString("\n")

		for _, event := range m.events {
			b.WriteString(event)
			b.WriteString("\n")
		}

		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("q: quit"))

	return b.String()
}
