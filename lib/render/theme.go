// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package render

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette for rendered agent output. All colors are
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	Text    lipgloss.Color
	Faint   lipgloss.Color // code, links, secondary chrome
	Heading lipgloss.Color
	Border  lipgloss.Color // rules, table separators, blockquote bars
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	Text:    lipgloss.Color("252"),
	Faint:   lipgloss.Color("245"),
	Heading: lipgloss.Color("255"),
	Border:  lipgloss.Color("240"),
}
