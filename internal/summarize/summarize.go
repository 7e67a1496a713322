// Package summarize produces the one-shot document summary that seeds a chat.
package summarize

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/csheth/docchat/internal/llm"
)

// MaxDocumentChars caps the extracted text forwarded to the model, in runes.
const MaxDocumentChars = 200_000

// ErrEmptyDocument is returned when the extracted text has no content.
var ErrEmptyDocument = errors.New("document text empty; cannot summarize")

// Error reports a failed summarization. The cause is the adapter error.
type Error struct {
	Cause error
}

func (e *Error) Error() string {
	return "summarization failed: " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Summarizer wraps documents in the fixed instruction template and issues a
// single generate call.
type Summarizer struct {
	adapter llm.Adapter
}

// New returns a Summarizer backed by adapter.
func New(adapter llm.Adapter) *Summarizer {
	return &Summarizer{adapter: adapter}
}

// Summarize returns the complete summary of documentText. The caller has
// already validated and extracted the upload.
func (s *Summarizer) Summarize(ctx context.Context, documentText string) (string, error) {
	text := clipText(documentText, MaxDocumentChars)
	if text == "" {
		return "", ErrEmptyDocument
	}
	summary, err := s.adapter.GenerateOnce(ctx, BuildPrompt(text))
	if err != nil {
		return "", &Error{Cause: err}
	}
	return summary, nil
}

// BuildPrompt renders the summarization template around the document text.
func BuildPrompt(documentText string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that summarizes documents.\n")
	b.WriteString("Please summarize the following document:\n\n")
	b.WriteString(documentText)
	return b.String()
}

func clipText(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
