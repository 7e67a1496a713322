package tui

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/guide"
)

type pageLayout struct {
	windowWidth    int
	windowHeight   int
	viewportWidth  int
	viewportHeight int
	composerWidth  int
}

func newPageLayout() pageLayout {
	return pageLayout{
		viewportWidth:  80,
		viewportHeight: 20,
		composerWidth:  70,
	}
}

func (l *pageLayout) Update(width, height int) {
	l.windowWidth = width
	l.windowHeight = height
	innerWidth := width - viewportHorizontalPadding
	if innerWidth < minViewportWidth {
		innerWidth = minViewportWidth
	}
	l.viewportWidth = innerWidth
	l.composerWidth = innerWidth - 4
	// header, status bar, composer block and the blank lines between them
	const chrome = 10
	contentHeight := height - chrome
	if contentHeight < 6 {
		contentHeight = 6
	}
	l.viewportHeight = contentHeight
}

type contentBuilder struct {
	builder strings.Builder
	lines   int
}

func (cb *contentBuilder) WriteString(s string) {
	cb.builder.WriteString(s)
	cb.lines += strings.Count(s, "\n")
}

func (cb *contentBuilder) WriteRune(r rune) {
	cb.builder.WriteRune(r)
	if r == '\n' {
		cb.lines++
	}
}

func (cb *contentBuilder) String() string {
	return cb.builder.String()
}

func (cb *contentBuilder) Line() int {
	return cb.lines
}

// buildTranscript renders every turn of the display view. The trailing
// assistant turn shows a spinner until its first chunk lands.
func (m *model) buildTranscript() string {
	turns := m.chat.Turns()
	cb := &contentBuilder{}
	if len(turns) == 0 {
		m.writeOnboarding(cb)
		return cb.String()
	}
	wrap := m.wrapWidth(4)
	for idx, turn := range turns {
		label := turnLabel(turn)
		style := userLabelStyle
		if turn.Role == conversation.RoleAssistant {
			style = assistantLabelStyle
		}
		if isErrorTurn(turn) {
			style = errorStyle
		}
		cb.WriteString(style.Render(label))
		cb.WriteRune('\n')
		body := strings.TrimRight(turn.Content, "\n")
		if body == "" && idx == len(turns)-1 && m.chat.state == stateStreaming {
			body = m.spinner.View() + " thinking…"
		}
		cb.WriteString(indentMultiline(wordwrap.String(body, wrap), "  "))
		cb.WriteRune('\n')
		if idx < len(turns)-1 {
			cb.WriteRune('\n')
		}
	}
	return cb.String()
}

func (m *model) writeOnboarding(cb *contentBuilder) {
	cb.WriteString(renderLogo())
	cb.WriteRune('\n')
	cb.WriteString(taglineStyle.Render(heroTagline))
	cb.WriteRune('\n')
	cb.WriteRune('\n')
	steps := guide.Build(guide.Metadata{
		Document:  m.document,
		Model:     m.config.ModelName,
		ServerURL: m.config.ServerURL,
	})
	wrap := m.wrapWidth(6)
	for idx, step := range steps {
		cb.WriteString(sectionHeaderStyle.Render(fmt.Sprintf("%d. %s", idx+1, step.Title)))
		cb.WriteRune('\n')
		cb.WriteString(helperStyle.Render(indentMultiline(wordwrap.String(step.Description, wrap), "   ")))
		cb.WriteRune('\n')
	}
}

func turnLabel(turn conversation.Turn) string {
	switch {
	case turn.Role == conversation.RoleUser:
		return "You"
	case isErrorTurn(turn):
		return "Error"
	default:
		return "Assistant"
	}
}

func isErrorTurn(turn conversation.Turn) bool {
	return turn.Role == conversation.RoleAssistant && strings.HasPrefix(turn.Content, replyErrorPrefix)
}

func indentMultiline(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func (m *model) wrapWidth(padding int) int {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	if padding < 0 {
		padding = 0
	}
	available := width - padding
	if available < 20 {
		available = 20
	}
	return available
}
