package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// MaxHistory is the number of prior turns kept in the window sent to the model.
// The turn being submitted is sent on top of it.
const MaxHistory = 100

// Role tags a turn with its speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two supported speakers.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks the role of a turn. Empty content is allowed: the assistant
// placeholder starts out empty.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("unknown role %q", t.Role)
	}
	return nil
}

// ErrEmptyConversation is returned when a request split is attempted on no turns.
var ErrEmptyConversation = errors.New("conversation has no turns")

// Conversation is the ordered transcript. The full list is the display view;
// Window derives the bounded view used for model calls.
type Conversation struct {
	turns []Turn
}

// New returns an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// Seeded returns a conversation whose first turn is the given document summary.
// An empty summary yields an empty conversation.
func Seeded(summary string) *Conversation {
	c := New()
	if strings.TrimSpace(summary) != "" {
		c.Append(Turn{Role: RoleAssistant, Content: summary})
	}
	return c
}

// Append adds a turn to the tail of the transcript.
func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Len returns the number of turns in the display view.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of the display view.
func (c *Conversation) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

// Last returns the trailing turn, if any.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// ReplaceLast overwrites the trailing turn. It is used for the in-progress
// assistant reply, which is rewritten wholesale on every chunk.
func (c *Conversation) ReplaceLast(turn Turn) bool {
	if len(c.turns) == 0 {
		return false
	}
	c.turns[len(c.turns)-1] = turn
	return true
}

// DropLast removes the trailing turn.
func (c *Conversation) DropLast() bool {
	if len(c.turns) == 0 {
		return false
	}
	c.turns = c.turns[:len(c.turns)-1]
	return true
}

// Window returns the model-call view: the newest turn plus at most max turns
// before it. Oldest turns are dropped first; the display view is untouched.
func (c *Conversation) Window(max int) []Turn {
	return Window(c.turns, max)
}

// Window applies the FIFO eviction rule to an arbitrary slice of turns.
func Window(turns []Turn, max int) []Turn {
	if max < 0 {
		max = 0
	}
	limit := max + 1
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]Turn(nil), turns...)
}

// Split divides a request into the history bound to the model session and the
// content of the new turn to send.
func Split(turns []Turn) ([]Turn, string, error) {
	if len(turns) == 0 {
		return nil, "", ErrEmptyConversation
	}
	last := len(turns) - 1
	history := append(make([]Turn, 0, last), turns[:last]...)
	return history, turns[last].Content, nil
}

var sentenceBreak = regexp.MustCompile(`\.(?:\s+|$)`)

// FormatReply puts a line break after every sentence-ending period: a period
// followed by whitespace, or the period that ends the text. It is applied to the
// whole accumulated reply on every chunk, so a trailing period may be broken
// early and rejoined once the next chunk shows it was not a sentence end.
func FormatReply(text string) string {
	return sentenceBreak.ReplaceAllString(text, ".\n")
}
