package guide

import (
	"fmt"
	"strings"
)

// Step represents one actionable hint shown while the transcript is empty.
type Step struct {
	Title       string
	Description string
}

// Metadata carries just enough context for personalizing the steps.
type Metadata struct {
	Document  string
	Model     string
	ServerURL string
}

// Build returns the onboarding checklist for a fresh chat.
func Build(meta Metadata) []Step {
	server := strings.TrimSpace(meta.ServerURL)
	if server == "" {
		server = "the docchat server"
	}
	model := strings.TrimSpace(meta.Model)
	if model == "" {
		model = "the configured model"
	}

	first := Step{
		Title:       "Upload a document",
		Description: "Press Ctrl+U or type /upload <path>. Plain text, PDF, DOC and DOCX files are accepted; the summary becomes the first message of a new conversation.",
	}
	if doc := strings.TrimSpace(meta.Document); doc != "" {
		first = Step{
			Title:       "Document loaded",
			Description: fmt.Sprintf("The summary of %s opens the conversation. Uploading another file starts over.", doc),
		}
	}

	return []Step{
		first,
		{
			Title:       "Ask follow-up questions",
			Description: fmt.Sprintf("Type below and press Enter. Replies from %s stream in through %s as they are written.", model, server),
		},
		{
			Title:       "Keep the thread",
			Description: "Each question is sent with the recent conversation, so you can refer back to earlier answers.",
		},
		{
			Title:       "Save what matters",
			Description: "Type /export <file> to write the transcript to JSON, or /clear to start a blank conversation.",
		},
	}
}
