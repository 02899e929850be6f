package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Style definitions.
var (
	// TitleStyle for the header line.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for the footer help text.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// ErrorStyle for stream errors.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

	// StoppedStyle for terminal session states.
	StoppedStyle = lipgloss.NewStyle().Faint(true)
)

// FormatProfit renders a signed profit with a direction marker.
func FormatProfit(profit float64) string {
	switch {
	case profit > 0:
		return fmt.Sprintf("+%.2f ▲", profit)
	case profit < 0:
		return fmt.Sprintf("%.2f ▼", profit)
	default:
		return "0.00"
	}
}

// FormatResult renders the last settlement outcome.
func FormatResult(won *bool) string {
	if won == nil {
		return "-"
	}

	if *won {
		return "WIN"
	}

	return "LOSS"
}
