package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/csheth/docchat/internal/conversation"
)

func TestExportAppendsSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "chat.json")
	turns := []conversation.Turn{
		{Role: conversation.RoleAssistant, Content: "Summary."},
		{Role: conversation.RoleUser, Content: "Hi"},
	}

	first, err := Export(path, turns, Meta{Model: "gemini-2.0-flash", Document: "report.pdf"})
	require.NoError(t, err)
	require.False(t, first.ExportedAt.IsZero())

	_, err = Export(path, turns[:1], Meta{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	require.Equal(t, "gemini-2.0-flash", got[0].Model)
	require.Equal(t, "report.pdf", got[0].Document)
	require.Equal(t, turns, got[0].Turns)
	require.Len(t, got[1].Turns, 1)
}

func TestExportRejectsEmptyTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	_, err := Export(path, nil, Meta{})
	require.ErrorIs(t, err, ErrNothingToExport)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestExportRefusesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	require.NoError(t, os.WriteFile(path, []byte("{not an array"), 0o644))
	_, err := Export(path, []conversation.Turn{{Role: conversation.RoleUser, Content: "x"}}, Meta{})
	require.Error(t, err)
}
