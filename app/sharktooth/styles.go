package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/WasatchPhotonics/SharkTooth/eng001"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

var (
	// adaptive colors look good in light/dark terminals
	borderColor   = lipgloss.AdaptiveColor{Light: "#1E6FB8", Dark: "#56B6F2"}
	chipColor     = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	okColor       = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#9FF29A"}
	badColor      = lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#FF6B6B"}
	subtleColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(borderColor)
	pathStyle  = lipgloss.NewStyle().Foreground(subtleColor)

	chipStyle = lipgloss.NewStyle().Padding(0, 1).MarginRight(1).
			Border(lipgloss.RoundedBorder()).BorderForeground(borderColor).
			Foreground(chipColor)
	chipSelStyle = chipStyle.Bold(true).Foreground(okColor)

	headerStyle = lipgloss.NewStyle().Bold(true)
	statusOK    = lipgloss.NewStyle().Foreground(okColor)
	statusBad   = lipgloss.NewStyle().Foreground(badColor)
)

// renderDeviceChips lays out one bordered chip per device, wrapping by
// terminal width; the selected device is highlighted.
func renderDeviceChips(sess *session.Session, selectedTag string, maxWidth int) string {
	if maxWidth < 30 {
		maxWidth = 30
	}
	var lines []string
	var row []string
	rowW := 0

	flush := func() {
		if len(row) == 0 {
			return
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, row...))
		row = row[:0]
		rowW = 0
	}

	for _, id := range sess.Devices() {
		style := chipStyle
		if id.Tag() == selectedTag {
			style = chipSelStyle
		}
		chip := style.Render(id.Tag())
		w := lipgloss.Width(chip)
		if rowW > 0 && rowW+w > maxWidth {
			flush()
		}
		row = append(row, chip)
		rowW += w
	}
	flush()
	return strings.Join(lines, "\n")
}

func styleStatus(s eng001.Status) string {
	if s == eng001.StatusOK {
		return statusOK.Render(s.String())
	}
	return statusBad.Render(s.String())
}

// renderOpsTable renders decoded operations as a bordered table.
func renderOpsTable(ops []eng001.Operation, width int) string {
	if len(ops) == 0 {
		return "no operations"
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("SEQ", "TIME", "OPCODE", "DIR", "DETAIL", "STATUS", "CONF")

	for i := range ops {
		op := &ops[i]
		dir := "fromSpec"
		if op.ToDevice() {
			dir = "toSpec"
		}
		t.Row(
			fmt.Sprintf("%d", op.FirstSeq),
			fmt.Sprintf("%.6f", op.Time.Seconds()),
			op.Opcode,
			dir,
			opDetail(op),
			styleStatus(op.Status),
			op.Confidence.String(),
		)
	}
	if width > 20 {
		t = t.Width(width - 2)
	}
	return t.Render()
}

// opDetail joins the interpreted arguments and response fields, falling back
// to the raw response size.
func opDetail(op *eng001.Operation) string {
	parts := make([]string, 0, len(op.Args)+len(op.Response))
	for _, a := range op.Args {
		parts = append(parts, a.String())
	}
	for _, f := range op.Response {
		parts = append(parts, f.String())
	}
	if len(parts) == 0 && len(op.RawResponse) > 0 {
		parts = append(parts, fmt.Sprintf("%d bytes", len(op.RawResponse)))
	}
	return strings.Join(parts, " ")
}
