package guide

import (
	"strings"
	"testing"
)

func TestBuildWithoutDocument(t *testing.T) {
	steps := Build(Metadata{})
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	if steps[0].Title != "Upload a document" {
		t.Fatalf("unexpected first step %q", steps[0].Title)
	}
	if !strings.Contains(steps[1].Description, "the configured model") {
		t.Fatalf("expected model fallback, got %q", steps[1].Description)
	}
}

func TestBuildPersonalizes(t *testing.T) {
	steps := Build(Metadata{Document: "report.pdf", Model: "gemini-2.0-flash", ServerURL: "http://localhost:3000"})
	if !strings.Contains(steps[0].Description, "report.pdf") {
		t.Fatalf("expected document name, got %q", steps[0].Description)
	}
	if !strings.Contains(steps[1].Description, "gemini-2.0-flash") || !strings.Contains(steps[1].Description, "http://localhost:3000") {
		t.Fatalf("expected model and server, got %q", steps[1].Description)
	}
}
