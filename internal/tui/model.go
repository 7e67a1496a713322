// Package tui is the terminal chat client: a transcript viewport over a single
// conversation, a composer, and document upload.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/csheth/docchat/internal/document"
	"github.com/csheth/docchat/internal/transcript"
)

const defaultExportPath = "docchat-transcript.json"

// Config wires runtime options into the TUI program.
type Config struct {
	Backend   Backend
	ModelName string
	ServerURL string
	// Context, when set, bounds every request the TUI makes.
	Context context.Context
	Logger  zerolog.Logger
}

type model struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	chat         *controller
	composer     textinput.Model
	composerMode composerMode
	spinner      spinner.Model
	viewport     viewport.Model
	layout       pageLayout
	bus          *jobBus
	jobs         map[string]jobSnapshot
	events       <-chan streamMsg

	document      string
	infoMessage   string
	errorMessage  string
	helpVisible   bool
	viewportDirty bool
	follow        bool
	quitting      bool
}

// New returns a tea.Model ready to be mounted into a Program.
func New(config Config) tea.Model {
	parent := config.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	composer := textinput.New()
	composer.Placeholder = composerChatPlaceholder
	composer.Focus()
	composer.CharLimit = 4000
	composer.Width = 70

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	logger := config.Logger.With().Str("component", "tui").Logger()
	return &model{
		config:        config,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		chat:          newController(),
		composer:      composer,
		spinner:       spin,
		viewport:      vp,
		layout:        newPageLayout(),
		bus:           newJobBus(ctx, config.Logger),
		jobs:          map[string]jobSnapshot{},
		viewportDirty: true,
		follow:        true,
		infoMessage:   "Upload a document with Ctrl+U, or just start typing.",
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout.Update(msg.Width, msg.Height)
		m.viewport.Width = m.layout.viewportWidth
		m.viewport.Height = m.layout.viewportHeight
		m.composer.Width = m.layout.composerWidth
		m.markViewportDirty()
		return m, nil
	case spinner.TickMsg:
		if !m.chat.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.markViewportDirty()
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
		return m, cmd
	case streamOpenedMsg:
		m.events = msg.events
		m.chat.BeginStream()
		m.markViewportDirty()
		return m, waitForStream(m.events)
	case streamFailedMsg:
		m.endStream()
		m.chat.Fail(msg.err)
		m.logger.Warn().Err(msg.err).Msg("chat request failed")
		return m, nil
	case streamMsg:
		return m.applyStream(msg)
	case jobSignalMsg:
		m.jobs[msg.Snapshot.ID] = msg.Snapshot
		return m, nil
	case jobResultEnvelope:
		delete(m.jobs, msg.Snapshot.ID)
		if msg.Payload == nil {
			return m, nil
		}
		return m.Update(msg.Payload)
	case uploadResultMsg:
		if msg.err != nil {
			m.chat.FailUpload()
			m.errorMessage = infoUploadFailed
			m.infoMessage = ""
			m.logger.Error().Err(msg.err).Str("path", msg.path).Msg("upload failed")
			return m, nil
		}
		m.chat.CompleteUpload(msg.summary)
		m.document = filepath.Base(msg.path)
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Summarized %s. Ask a follow-up question.", m.document)
		m.follow = false
		m.viewport.GotoTop()
		m.markViewportDirty()
		return m, nil
	case exportResultMsg:
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("Export failed: %v", msg.err)
			return m, nil
		}
		m.infoMessage = fmt.Sprintf("Exported %d turns to %s.", msg.turns, msg.path)
		return m, nil
	}
	return m, nil
}

func (m *model) applyStream(msg streamMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.err != nil:
		m.endStream()
		m.chat.Fail(msg.err)
		m.logger.Warn().Err(msg.err).Msg("reply stream failed")
	case msg.done:
		m.endStream()
		m.chat.Finish()
	default:
		m.chat.ApplyChunk(msg.chunk)
		m.markViewportDirty()
		return m, waitForStream(m.events)
	}
	return m, nil
}

func (m *model) endStream() {
	m.events = nil
	m.infoMessage = ""
	m.markViewportDirty()
}

func (m *model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyCtrlC:
		m.cancel()
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEsc:
		if m.composerMode == composerModeUpload {
			m.setComposerMode(composerModeChat)
			return m, nil
		}
		m.composer.SetValue("")
		m.helpVisible = false
		return m, nil
	case tea.KeyCtrlU:
		if m.chat.busy() {
			m.infoMessage = infoReplyInProgress
			return m, nil
		}
		m.setComposerMode(composerModeUpload)
		return m, nil
	case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(key)
		m.follow = m.viewport.AtBottom()
		return m, cmd
	case tea.KeyEnter:
		value := m.composer.Value()
		if m.composerMode == composerModeUpload {
			return m, m.startUpload(value)
		}
		if cmd, ok := parseSlashCommand(value); ok {
			return m, m.runSlashCommand(cmd)
		}
		return m, m.submit(value)
	}

	if key.String() == "?" && m.composer.Value() == "" {
		m.helpVisible = !m.helpVisible
		return m, nil
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(key)
	return m, cmd
}

func (m *model) submit(text string) tea.Cmd {
	if m.chat.busy() {
		m.infoMessage = infoReplyInProgress
		return nil
	}
	turns, ok := m.chat.Submit(text)
	if !ok {
		return nil
	}
	m.composer.SetValue("")
	m.errorMessage = ""
	m.infoMessage = infoReplyInProgress
	m.follow = true
	m.markViewportDirty()
	return tea.Batch(openStreamCmd(m.ctx, m.config.Backend, turns), m.spinner.Tick)
}

func (m *model) startUpload(raw string) tea.Cmd {
	path := expandPath(strings.TrimSpace(raw))
	if path == "" {
		m.errorMessage = "Enter a file path to upload."
		return nil
	}
	if m.chat.busy() {
		m.infoMessage = infoReplyInProgress
		return nil
	}
	if _, err := document.ValidateMediaType(document.MediaTypeForPath(path)); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("upload rejected")
		m.errorMessage = infoUploadFailed
		return nil
	}
	if !m.chat.BeginUpload() {
		return nil
	}
	m.setComposerMode(composerModeChat)
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Uploading and summarizing %s…", filepath.Base(path))
	return tea.Batch(m.bus.Start(jobKindUpload, uploadJob(m.config.Backend, path)), m.spinner.Tick)
}

func (m *model) runSlashCommand(cmd slashCommand) tea.Cmd {
	m.composer.SetValue("")
	switch cmd.name {
	case "upload":
		if cmd.arg == "" {
			m.setComposerMode(composerModeUpload)
			return nil
		}
		return m.startUpload(cmd.arg)
	case "export":
		if m.chat.busy() {
			m.infoMessage = infoReplyInProgress
			return nil
		}
		turns := m.chat.Turns()
		if len(turns) == 0 {
			m.errorMessage = "Nothing to export yet."
			return nil
		}
		path := expandPath(cmd.arg)
		if path == "" {
			path = defaultExportPath
		}
		meta := transcript.Meta{Model: m.config.ModelName, Document: m.document}
		return m.bus.Start(jobKindExport, exportJob(path, turns, meta))
	case "clear":
		if !m.chat.Clear() {
			m.infoMessage = infoReplyInProgress
			return nil
		}
		m.document = ""
		m.errorMessage = ""
		m.infoMessage = "Conversation cleared."
		m.markViewportDirty()
		return nil
	case "help":
		m.helpVisible = !m.helpVisible
		return nil
	}
	return nil
}

func (m *model) setComposerMode(mode composerMode) {
	m.composerMode = mode
	m.composer.SetValue("")
	switch mode {
	case composerModeUpload:
		m.composer.Placeholder = composerUploadPlaceholder
	default:
		m.composer.Placeholder = composerChatPlaceholder
	}
}

func (m *model) markViewportDirty() {
	m.viewportDirty = true
}

func (m *model) refreshViewportIfDirty() {
	if !m.viewportDirty {
		return
	}
	m.viewport.SetContent(m.buildTranscript())
	if m.follow {
		m.viewport.GotoBottom()
	}
	m.viewportDirty = false
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
