package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	elapsed := time.Since(m.startTime).Round(time.Second)
	b.WriteString(m.Styles.Title.Render("mycelium run "+m.RunID) + " " +
		m.Styles.Timer.Render(elapsed.String()) + "\n\n")

	ids := make([]string, 0, len(m.taskState))
	for id := range m.taskState {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		status := m.taskState[id]
		style := m.Styles.TaskOther
		icon := "·"
		switch status {
		case "running":
			style, icon = m.Styles.TaskRunning, "▶"
		case "complete", "validated":
			style, icon = m.Styles.TaskComplete, "✓"
		case "failed", "needs_human_review", "rescope_required":
			style, icon = m.Styles.TaskFailed, "✗"
		}
		b.WriteString(fmt.Sprintf("  %s %-24s %s\n", style.Render(icon), id, style.Render(status)))
	}

	b.WriteString(m.Styles.LogTitle.Render("events") + "\n")
	tail := m.lines
	visible := 12
	if m.height > 0 && m.height-len(ids)-8 > 4 {
		visible = m.height - len(ids) - 8
	}
	if len(tail) > visible {
		tail = tail[len(tail)-visible:]
	}
	for _, line := range tail {
		style := m.Styles.LogLine
		if line.bad {
			style = m.Styles.LogBad
		}
		b.WriteString("  " + style.Render(line.at.Format("15:04:05")+" "+line.text) + "\n")
	}

	if m.finalStatus != "" {
		style := m.Styles.Final
		if m.finalStatus != "complete" {
			style = m.Styles.TaskFailed
		}
		b.WriteString("\n" + style.Render("run "+m.finalStatus) + "\n")
	}

	b.WriteString(m.Styles.Footer.Render(
		m.Styles.FooterKey.Render("q") + " quit"))
	return b.String()
}
