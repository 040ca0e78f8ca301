package tui

import (
	"fmt"
	"strings"
	"time"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting && !m.finished {
		return "Interrupted.\n"
	}

	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteString("\n")
	}

	line(titleStyle.Render("fdmux bench"))

	elapsed := time.Since(m.startedAt).Round(100 * time.Millisecond)
	line(labelStyle.Render("Elapsed: ") + valueStyle.Render(elapsed.String()) +
		labelStyle.Render("   Rate: ") + valueStyle.Render(fmt.Sprintf("%.0f ops/s", m.opsPerSec)))
	line("")

	line(labelStyle.Render("Progress ") + renderBar(m.progress.Done, m.progress.Total, m.barWidth()) +
		fmt.Sprintf(" %s/%s", FormatCount(m.progress.Done), FormatCount(m.progress.Total)))
	line(labelStyle.Render("Reads:   ") + valueStyle.Render(FormatCount(m.progress.Reads)) +
		labelStyle.Render("   Writes: ") + valueStyle.Render(FormatCount(m.progress.Writes)) +
		labelStyle.Render("   Moved: ") + valueStyle.Render(FormatSize(m.progress.Bytes)))

	errLine := labelStyle.Render("Errors:  ")
	if m.progress.Errors > 0 {
		errLine += errStyle.Render(FormatCount(m.progress.Errors))
	} else {
		errLine += okStyle.Render("0")
	}
	line(errLine)
	line("")

	fd := fmt.Sprintf("%d/%d", m.stats.OpenFiles, m.stats.MaxOpenFiles)
	fdStyled := okStyle.Render(fd)
	if m.stats.OpenFiles >= m.stats.MaxOpenFiles {
		fdStyled = warnStyle.Render(fd)
	}
	line(labelStyle.Render("Open files: ") + fdStyled +
		labelStyle.Render("   Workers: ") + valueStyle.Render(FormatCount(int64(m.stats.Workers))) +
		labelStyle.Render("   Evictions: ") + valueStyle.Render(FormatCount(m.stats.Evictions)))
	line(labelStyle.Render("Pending ops: ") + valueStyle.Render(FormatCount(int64(m.stats.PendingOps))))

	if m.finished {
		if m.runErr != nil {
			line(errStyle.Render(fmt.Sprintf("Bench failed: %v", m.runErr)))
		} else {
			line(okStyle.Render("Done."))
		}
	}

	line(helpStyle.Render("q: quit"))
	return b.String()
}

func (m *Model) barWidth() int {
	w := m.width - 30
	if w < 10 {
		w = 20
	}
	if w > 60 {
		w = 60
	}
	return w
}

func renderBar(done, total int64, width int) string {
	if total <= 0 {
		return ""
	}
	filled := int(float64(width) * float64(done) / float64(total))
	if filled > width {
		filled = width
	}
	return barFillStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}
