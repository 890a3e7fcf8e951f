package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the banner printed at the start of a command.
type Header struct {
	Title   string            // e.g., "CERTIFICATE PROVISIONING"
	Command string            // e.g., "webhost-cfg cert provision"
	Params  map[string]string // shown sorted by key
	Width   int
}

// NewHeader creates a header sized to the terminal.
func NewHeader(title, command string, params map[string]string) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the width for rendering.
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header.
func (h *Header) Render() string {
	width := clampWidth(h.Width)

	top := lipgloss.JoinVertical(lipgloss.Left,
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command))

	content := top
	if len(h.Params) > 0 {
		var paramLines []string
		for _, key := range sortedKeys(h.Params) {
			paramLines = append(paramLines,
				HeaderParamKeyStyle.Render(key+":")+" "+HeaderParamValueStyle.Render(h.Params[key]))
		}
		divider := RenderHorizontalDivider(width-6, "─")
		content = lipgloss.JoinVertical(lipgloss.Left, top, divider, strings.Join(paramLines, "\n"))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

func (h *Header) String() string {
	return h.Render()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
