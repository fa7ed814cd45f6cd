package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/veictry/aiaim/internal/runner"
	"github.com/veictry/aiaim/internal/session"
	"github.com/veictry/aiaim/internal/todo"
	"github.com/veictry/aiaim/internal/verdict"
)

// Lipgloss styles for console output. Colors are ANSI-256 so they degrade
// cleanly on basic terminals.
var (
	// Iteration headings - bold bright cyan
	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Labels inside panels - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Values inside panels - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Secondary information and routine status lines
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Task panel - rounded border in dim gray
	taskPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 2)

	// Result panels - border color signals the outcome
	successPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("46")).
				Padding(0, 2)

	warnPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("226")).
			Padding(0, 2)
)

// statusLine styles one progress line from the run loop. The loop emits a
// small fixed vocabulary; anything unrecognized renders dim.
func statusLine(line string) string {
	switch {
	case strings.HasPrefix(line, "=== "):
		return headingStyle.Render(line)
	case line == "Task complete.":
		return successStyle.Render(line)
	case strings.HasPrefix(line, "Maximum iterations"), line == "Run interrupted":
		return warnStyle.Render(line)
	case strings.HasPrefix(line, "Worker failed: "), strings.HasPrefix(line, "Failed to create chat session: "):
		return errorStyle.Render(line)
	default:
		return dimStyle.Render(line)
	}
}

// taskPanel renders the banner shown before a run starts.
func taskPanel(task, sessionID string) string {
	body := headingStyle.Render("Task") + "\n" +
		valueStyle.Render(truncate(task, 200))
	if sessionID != "" {
		body += "\n" + dimStyle.Render("session: "+sessionID)
	}
	return taskPanelStyle.Render(body)
}

// settingsLine summarizes the effective run parameters in one dim line.
func settingsLine(kind, model string, maxIterations int, delayS float64) string {
	parts := []string{"backend: " + kind}
	if model != "" {
		parts = append(parts, "model: "+model)
	}
	parts = append(parts,
		fmt.Sprintf("max iterations: %d", maxIterations),
		fmt.Sprintf("delay: %.1fs", delayS))
	return dimStyle.Render(strings.Join(parts, " | "))
}

// resultPanel renders the final run summary. The border is green when the
// task completed and yellow otherwise.
func resultPanel(res *runner.Result) string {
	var lines []string

	if res.Completed {
		lines = append(lines, successStyle.Render("✅ Completed"))
	} else {
		lines = append(lines, warnStyle.Render("❌ Incomplete"))
	}

	lines = append(lines,
		labelStyle.Render("Iterations: ")+valueStyle.Render(fmt.Sprintf("%d", res.Iterations)),
		labelStyle.Render("Total time: ")+valueStyle.Render(fmt.Sprintf("%.2fs", res.TotalTimeS)))

	if res.FinalSummary != "" {
		lines = append(lines, labelStyle.Render("Summary: ")+truncate(res.FinalSummary, 300))
	}
	if res.Error != "" {
		lines = append(lines, errorStyle.Render("Error: "+truncate(res.Error, 300)))
	}

	panel := warnPanelStyle
	if res.Completed {
		panel = successPanelStyle
	}
	return panel.Render(strings.Join(lines, "\n"))
}

// pendingList renders open items as a numbered list.
func pendingList(items []string) string {
	if len(items) == 0 {
		return dimStyle.Render("no pending items")
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, labelStyle.Render(fmt.Sprintf("Pending items: %d", len(items))))
	for i, item := range items {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, truncate(item, 120)))
	}
	return strings.Join(lines, "\n")
}

// verdictView renders a standalone completion check.
func verdictView(v verdict.Verdict) string {
	var lines []string
	if v.IsComplete {
		lines = append(lines, successStyle.Render("✅ Complete"))
	} else {
		lines = append(lines, warnStyle.Render("⏳ "+string(v.Status)))
	}
	if v.Summary != "" {
		lines = append(lines, labelStyle.Render("Summary: ")+v.Summary)
	}
	if len(v.PendingItems) > 0 {
		lines = append(lines, pendingList(v.PendingItems))
	}

	panel := warnPanelStyle
	if v.IsComplete {
		panel = successPanelStyle
	}
	return panel.Render(strings.Join(lines, "\n"))
}

// sessionTable renders sessions newest first. The shell's last and locked
// sessions are flagged in the margin.
func sessionTable(infos []session.Info, lastID, lockedID string) string {
	if len(infos) == 0 {
		return dimStyle.Render("no sessions")
	}

	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		marker := "  "
		switch info.ID {
		case lockedID:
			marker = warnStyle.Render("* ")
		case lastID:
			marker = headingStyle.Render("> ")
		}

		prompt := truncate(strings.ReplaceAll(info.InitialPrompt, "\n", " "), 60)
		line := marker + valueStyle.Render(info.ID) +
			dimStyle.Render(fmt.Sprintf("  %s  iterations=%d", info.CreatedAt.Local().Format("2006-01-02 15:04"), info.IterationCount))
		if info.ChatID != "" {
			line += dimStyle.Render("  chat=" + info.ChatID)
		}
		lines = append(lines, line, "    "+dimStyle.Render(prompt))
	}
	return strings.Join(lines, "\n")
}

// sessionDetail renders the full view of one session.
func sessionDetail(info *session.Info, task string, ledger *todo.Ledger, drifted bool) string {
	pending, completed := ledger.Counts()

	lines := []string{
		valueStyle.Render(info.ID),
		labelStyle.Render("Created:    ") + valueStyle.Render(info.CreatedAt.Local().Format("2006-01-02 15:04:05")),
		labelStyle.Render("Workspace:  ") + valueStyle.Render(info.Workspace),
		labelStyle.Render("Iterations: ") + valueStyle.Render(fmt.Sprintf("%d", info.IterationCount)),
		labelStyle.Render("Todo items: ") + valueStyle.Render(fmt.Sprintf("%d open, %d done", pending, completed)),
	}
	if info.ChatID != "" {
		lines = append(lines, labelStyle.Render("Chat:       ")+valueStyle.Render(info.ChatID))
	}
	if drifted {
		lines = append(lines, warnStyle.Render("task.md was edited after this session was created"))
	}

	lines = append(lines, "", headingStyle.Render("Task"))
	if task == "" {
		lines = append(lines, dimStyle.Render("(no task recorded)"))
	} else {
		lines = append(lines, truncate(task, 500))
	}

	lines = append(lines, "", pendingList(ledger.Pending()))
	if done := ledger.Completed(); len(done) > 0 {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("Completed items: %d", len(done))))
		for i, item := range done {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, truncate(item, 120)))
		}
	}

	return strings.Join(lines, "\n")
}

// statsView renders aggregate session statistics.
func statsView(st session.Stats) string {
	return strings.Join([]string{
		labelStyle.Render("Sessions:   ") + valueStyle.Render(fmt.Sprintf("%d", st.Sessions)),
		labelStyle.Render("Iterations: ") + valueStyle.Render(fmt.Sprintf("%d", st.Iterations)),
		labelStyle.Render("Shells:     ") + valueStyle.Render(fmt.Sprintf("%d", st.Shells)),
	}, "\n")
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
