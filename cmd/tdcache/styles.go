package main

import "github.com/charmbracelet/lipgloss"

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	greenColor  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	passStyle = lipgloss.NewStyle().
			Foreground(greenColor).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(warnColor).
			Bold(true)
)

// verdict renders one check result line, e.g. "PASS invariants after load".
func verdict(ok bool, label string, err error) string {
	if ok {
		return passStyle.Render("PASS") + " " + label
	}
	line := failStyle.Render("FAIL") + " " + label
	if err != nil {
		line += dimStyle.Render(": " + err.Error())
	}
	return line
}
