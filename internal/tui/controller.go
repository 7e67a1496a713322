package tui

import (
	"strings"

	"github.com/csheth/docchat/internal/conversation"
)

// chatState is the input controller's view of the current turn.
type chatState int

const (
	stateIdle chatState = iota
	stateUploading
	stateSending
	stateStreaming
	stateErrorDisplayed
)

func (s chatState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateUploading:
		return "uploading"
	case stateSending:
		return "sending"
	case stateStreaming:
		return "streaming"
	case stateErrorDisplayed:
		return "error"
	default:
		return "unknown"
	}
}

const replyErrorPrefix = "Sorry, there was an error processing your request: "

// controller owns the conversation and the submit/stream lifecycle. It holds
// no terminal state, so every transition can be driven directly.
type controller struct {
	conv       *conversation.Conversation
	state      chatState
	raw        strings.Builder
	maxHistory int
}

func newController() *controller {
	return &controller{conv: conversation.New(), maxHistory: conversation.MaxHistory}
}

// busy reports whether a request is in flight.
func (c *controller) busy() bool {
	return c.state == stateUploading || c.state == stateSending || c.state == stateStreaming
}

// Submit appends a user turn and returns the turns to send. It refuses blank
// input and anything submitted while a request is in flight.
func (c *controller) Submit(text string) ([]conversation.Turn, bool) {
	c.Acknowledge()
	if c.state != stateIdle || strings.TrimSpace(text) == "" {
		return nil, false
	}
	c.conv.Append(conversation.Turn{Role: conversation.RoleUser, Content: text})
	c.state = stateSending
	return c.conv.Window(c.maxHistory), true
}

// BeginStream adds the empty assistant placeholder that chunks fill in.
func (c *controller) BeginStream() {
	if c.state != stateSending {
		return
	}
	c.raw.Reset()
	c.conv.Append(conversation.Turn{Role: conversation.RoleAssistant})
	c.state = stateStreaming
}

// ApplyChunk accumulates raw reply text and rewrites the placeholder with the
// formatted whole.
func (c *controller) ApplyChunk(chunk string) {
	if c.state != stateStreaming {
		return
	}
	c.raw.WriteString(chunk)
	c.conv.ReplaceLast(conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: conversation.FormatReply(c.raw.String()),
	})
}

func (c *controller) Finish() {
	if c.state != stateStreaming {
		return
	}
	c.raw.Reset()
	c.state = stateIdle
}

// Fail ends the turn with an error message. Partial reply text stays; an
// assistant placeholder that never received a chunk is removed.
func (c *controller) Fail(err error) {
	if c.state != stateSending && c.state != stateStreaming {
		return
	}
	if c.state == stateStreaming {
		if last, ok := c.conv.Last(); ok && last.Role == conversation.RoleAssistant && last.Content == "" {
			c.conv.DropLast()
		}
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: replyErrorPrefix + msg})
	c.raw.Reset()
	c.state = stateErrorDisplayed
}

// Acknowledge clears the error state once the user moves on.
func (c *controller) Acknowledge() {
	if c.state == stateErrorDisplayed {
		c.state = stateIdle
	}
}

func (c *controller) BeginUpload() bool {
	c.Acknowledge()
	if c.state != stateIdle {
		return false
	}
	c.state = stateUploading
	return true
}

// CompleteUpload replaces the conversation with one seeded by summary. Blank
// lines the model put around the summary are not shown.
func (c *controller) CompleteUpload(summary string) {
	if c.state != stateUploading {
		return
	}
	c.conv = conversation.Seeded(strings.TrimSpace(summary))
	c.state = stateIdle
}

// FailUpload leaves the conversation untouched.
func (c *controller) FailUpload() {
	if c.state == stateUploading {
		c.state = stateIdle
	}
}

func (c *controller) Clear() bool {
	c.Acknowledge()
	if c.state != stateIdle {
		return false
	}
	c.conv = conversation.New()
	return true
}

func (c *controller) Turns() []conversation.Turn {
	return c.conv.Turns()
}
