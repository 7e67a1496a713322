package tui

const heroTagline = "Summarize a document, then talk it through."

const (
	minViewportWidth          = 40
	viewportHorizontalPadding = 4
)

type composerMode int

const (
	composerModeChat composerMode = iota
	composerModeUpload
)

const (
	composerChatPlaceholder   = "Ask about the document…"
	composerUploadPlaceholder = "Path to a .txt, .pdf, .doc or .docx file…"
)

const (
	infoReplyInProgress = "Reply in progress…"
	infoUploadFailed    = "Error uploading file. Please try again."
)

// streamMsg carries one event from the reply reader goroutine.
type streamMsg struct {
	chunk string
	err   error
	done  bool
}

type streamOpenedMsg struct {
	events <-chan streamMsg
}

type streamFailedMsg struct {
	err error
}

type uploadResultMsg struct {
	path    string
	summary string
	err     error
}

type exportResultMsg struct {
	path  string
	turns int
	err   error
}
