package ui

import (
	"bufio"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase is what the operator must type to proceed.
const ConfirmPhrase = "yes"

// Confirm shows a warning box listing what is about to happen and reads
// one line from in. It returns true only for ConfirmPhrase.
func (p *Printer) Confirm(in io.Reader, title string, warnings []string) bool {
	lines := []string{"", WarningTitleStyle.Render("   " + WarningMarker + "  WARNING  ─  " + title), ""}
	for _, w := range warnings {
		lines = append(lines, lipgloss.NewStyle().Foreground(TextColor).Render("   • "+w))
	}
	lines = append(lines, "")

	p.Println(lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(WarningColor).
		Width(p.width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n")))
	p.Printf("Type %q to continue: ", ConfirmPhrase)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), ConfirmPhrase)
}
