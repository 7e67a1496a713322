// Package transcript writes the visible conversation to a JSON file on demand.
// Exports are one-way: nothing in docchat reads them back into a session.
package transcript

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/csheth/docchat/internal/conversation"
)

// Meta describes where a transcript came from.
type Meta struct {
	Model    string `json:"model,omitempty"`
	Document string `json:"document,omitempty"`
}

// Snapshot is one exported transcript.
type Snapshot struct {
	ExportedAt time.Time `json:"exportedAt"`
	Meta
	Turns []conversation.Turn `json:"turns"`
}

// ErrNothingToExport is returned for an empty transcript.
var ErrNothingToExport = errors.New("transcript is empty")

// Export appends a snapshot of turns to the JSON array stored at path,
// creating the file and its directory if needed.
func Export(path string, turns []conversation.Turn, meta Meta) (Snapshot, error) {
	if len(turns) == 0 {
		return Snapshot{}, ErrNothingToExport
	}
	snapshot := Snapshot{
		ExportedAt: time.Now().UTC(),
		Meta:       meta,
		Turns:      append([]conversation.Turn(nil), turns...),
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return Snapshot{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Snapshot{}, err
	}
	entries, err := loadEntries(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, errors.Wrapf(err, "read %s", path)
	}
	entries = append(entries, raw)
	if err := writeEntries(path, entries); err != nil {
		return Snapshot{}, errors.Wrapf(err, "write %s", path)
	}
	return snapshot, nil
}

func writeEntries(path string, entries []json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadEntries(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
