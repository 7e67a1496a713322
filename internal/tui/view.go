package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m *model) View() string {
	if m.quitting {
		return ""
	}
	m.refreshViewportIfDirty()
	parts := []string{m.headerView(), m.viewport.View()}
	if m.errorMessage != "" {
		parts = append(parts, errorStyle.Render(m.errorMessage))
	}
	if m.infoMessage != "" {
		message := m.infoMessage
		if m.chat.busy() {
			message = fmt.Sprintf("%s %s", m.spinner.View(), message)
		}
		parts = append(parts, helperStyle.Render(message))
	}
	if m.helpVisible {
		parts = append(parts, m.keyLegendView())
	}
	parts = append(parts, m.composerPanel(), m.statusBarView())
	return joinNonEmpty(parts)
}

func (m *model) headerView() string {
	title := heroTitleStyle.Render("docchat")
	if m.document != "" {
		title = lipgloss.JoinHorizontal(lipgloss.Top, title, helperStyle.Render("  •  "+trimmedTitle(m.document)))
	}
	return title
}

func (m *model) composerPanel() string {
	header := "Message"
	if m.composerMode == composerModeUpload {
		header = "Upload"
	}
	return joinNonEmpty([]string{
		sectionHeaderStyle.Render(header) + "\n" + m.composer.View(),
		helperStyle.Render(m.composerHelpText()),
	})
}

func (m *model) composerHelpText() string {
	if m.composerMode == composerModeUpload {
		return "Enter: upload • Esc: cancel"
	}
	return "Enter: send • Ctrl+U: upload • /export <file> • /clear • ?: help • Ctrl+C: quit"
}

func (m *model) statusBarView() string {
	stats := []string{
		fmt.Sprintf("State %s", m.chat.state),
		fmt.Sprintf("Turns %d", len(m.chat.Turns())),
	}
	if m.config.ModelName != "" {
		stats = append(stats, "Model "+m.config.ModelName)
	}
	stats = append(stats, m.jobStatusBadges()...)
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) jobStatusBadges() []string {
	if len(m.jobs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	badges := make([]string, 0, len(ids))
	for _, id := range ids {
		badges = append(badges, fmt.Sprintf("%s %s…", m.jobs[id].Kind, m.jobs[id].Status))
	}
	return badges
}

type keyHint struct {
	Key         string
	Description string
}

func (m *model) keyLegendView() string {
	hints := []keyHint{
		{"Enter", "Send"},
		{"Ctrl+U", "Upload"},
		{"Esc", "Clear / cancel"},
		{"↑/↓", "Scroll"},
		{"PgUp/PgDn", "Page"},
		{"?", "Toggle help"},
	}
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := i + columns
		if end > len(hints) {
			end = len(hints)
		}
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.Key)
			desc := keyDescStyle.Render(" " + hint.Description + "  ")
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	rows = append(rows,
		helperStyle.Render("/upload <path> summarizes a file and starts a new conversation."),
		helperStyle.Render("/export <file> appends the transcript to a JSON file; /clear empties it."),
	)
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func joinNonEmpty(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, "\n\n")
}

func renderLogo() string {
	if len(logoArtLines) == 0 {
		return ""
	}
	width := 0
	lineRunes := make([][]rune, len(logoArtLines))
	for i, line := range logoArtLines {
		runes := []rune(line)
		lineRunes[i] = runes
		if len(runes) > width {
			width = len(runes)
		}
	}
	width++
	height := len(logoArtLines) + 1

	type cell struct {
		r     rune
		style lipgloss.Style
	}

	grid := make([][]cell, height)
	for i := range grid {
		grid[i] = make([]cell, width)
	}
	// shadow first, offset one cell down and right, then the face over it
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y+1][x+1] = cell{r: r, style: logoShadowStyle}
			}
		}
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y][x] = cell{r: r, style: logoFaceStyle}
			}
		}
	}

	lines := make([]string, height)
	for y, row := range grid {
		var b strings.Builder
		for _, c := range row {
			if c.r == 0 {
				b.WriteRune(' ')
				continue
			}
			b.WriteString(c.style.Render(string(c.r)))
		}
		lines[y] = b.String()
	}
	return logoContainerStyle.Render(strings.Join(lines, "\n"))
}

var (
	sectionHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	helperStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8ecae6"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(heroAccentColor)

	heroAccentColor        = lipgloss.Color("#ff8c00")
	heroEmberColor         = lipgloss.Color("#2b1400")
	heroTextColor          = lipgloss.Color("#fff4d0")
	heroSecondaryTextColor = lipgloss.Color("#ffb347")

	heroTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(heroAccentColor)
	taglineStyle       = lipgloss.NewStyle().Foreground(heroSecondaryTextColor).Italic(true)
	statusBarStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle           = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(1, 2)
	logoFaceStyle      = lipgloss.NewStyle().Bold(true).Foreground(heroTextColor).Background(heroEmberColor)
	logoShadowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#110600"))
	logoContainerStyle = lipgloss.NewStyle().Padding(0, 1)
	logoArtLines       = []string{
		"█▀▄ █▀█ █▀▀ █▀▀ █ █ ▄▀█ ▀█▀",
		"█▄▀ █▄█ █▄▄ █▄▄ █▀█ █▀█  █ ",
	}
)
