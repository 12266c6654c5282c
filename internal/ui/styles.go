// Package ui provides consistent styling for the wayime CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	// Primary colors
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	// Neutral colors
	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray

	// Status colors
	ColorActive   = ColorSuccess
	ColorInactive = ColorSubtle
)

// Base styles - building blocks for other styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)
)

// Transcript styles
var (
	// Requests flow client -> server, events server -> client
	RequestStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	EventStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	ProtocolErrorStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorError)

	ObjectStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	KeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ActiveIndicator = lipgloss.NewStyle().
			Foreground(ColorActive).
			Render("●")

	InactiveIndicator = lipgloss.NewStyle().
				Foreground(ColorInactive).
				Render("○")
)

// Icons
var (
	IconRequest = "→"
	IconEvent   = "←"
	IconError   = "✗"
	IconSuccess = "✓"
	IconSummary = "="
)

// FormatHeader renders a section title followed by a separator.
func FormatHeader(title string) string {
	header := HeaderStyle.Render(InfoStyle.Render(IconSummary) + " " + title)
	return header + "\n" + CreateSeparator(50, "─")
}

// FormatStatus prefixes status with an active or inactive indicator.
func FormatStatus(active bool, status string) string {
	indicator := InactiveIndicator
	if active {
		indicator = ActiveIndicator
	}
	return indicator + " " + status
}

// FormatKeyValue renders one "key: value" line of a listing.
func FormatKeyValue(key, value string) string {
	return "  " + KeyStyle.Render(key+":") + " " + TextStyle.Render(value)
}

// FormatResult renders the outcome of a command.
func FormatResult(success bool, message string) string {
	if success {
		return SuccessStyle.Render(IconSuccess) + " " + message
	}
	return ErrorStyle.Render(IconError) + " " + message
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50 // Default width
	}
	if char == "" {
		char = "─"
	}

	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}
