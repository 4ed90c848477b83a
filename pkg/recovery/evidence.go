package recovery

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/raycarroll/shipctl/pkg/models"
)

// MaxEvidenceLines bounds how much event text is shown per failure.
const MaxEvidenceLines = 25

var (
	evidenceStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	adviceStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))
)

// HeadLines keeps the first n lines of text and reports how many were cut.
func HeadLines(text string, n int) (string, int) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n"), 0
	}
	return strings.Join(lines[:n], "\n"), len(lines) - n
}

// FormatEvidence renders the failing pod's events for the operator.
func FormatEvidence(verdict models.EventVerdict) string {
	body := verdict.EventText
	if strings.TrimSpace(body) == "" {
		body = "(no events recorded)"
	}
	body, cut := HeadLines(body, MaxEvidenceLines)
	if cut > 0 {
		body += fmt.Sprintf("\n... %d more lines", cut)
	}

	title := fmt.Sprintf("Events for pod %s/%s", verdict.Namespace, verdict.PodName)
	if len(verdict.Matched) > 0 {
		title += fmt.Sprintf(" (matched: %s)", strings.Join(verdict.Matched, ", "))
	}
	return titleStyle.Render(title) + "\n" + evidenceStyle.Render(body)
}

// FormatAdvice renders an advisor hint.
func FormatAdvice(advice string) string {
	return titleStyle.Render("Diagnostic hint") + "\n" + adviceStyle.Render(strings.TrimSpace(advice))
}
