package tui

import (
	"context"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/docchat/internal/client"
	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/transcript"
)

// Stream is an incremental reply body. Recv returns io.EOF at the end.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Backend is the server the TUI talks to.
type Backend interface {
	Chat(ctx context.Context, turns []conversation.Turn) (Stream, error)
	Upload(ctx context.Context, path string) (string, error)
}

// NewHTTPBackend adapts a docchat HTTP client.
func NewHTTPBackend(c *client.Client) Backend {
	return httpBackend{c: c}
}

type httpBackend struct {
	c *client.Client
}

func (b httpBackend) Chat(ctx context.Context, turns []conversation.Turn) (Stream, error) {
	stream, err := b.c.Chat(ctx, turns)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (b httpBackend) Upload(ctx context.Context, path string) (string, error) {
	return b.c.Upload(ctx, path)
}

// openStreamCmd posts the request and, once the reply starts, hands its
// events to Update through a channel.
func openStreamCmd(ctx context.Context, backend Backend, turns []conversation.Turn) tea.Cmd {
	return func() tea.Msg {
		stream, err := backend.Chat(ctx, turns)
		if err != nil {
			return streamFailedMsg{err: err}
		}
		events := make(chan streamMsg, 16)
		go readStream(ctx, stream, events)
		return streamOpenedMsg{events: events}
	}
}

func readStream(ctx context.Context, stream Stream, events chan<- streamMsg) {
	defer close(events)
	defer stream.Close()
	for {
		chunk, err := stream.Recv()
		var msg streamMsg
		switch {
		case err == io.EOF:
			msg = streamMsg{done: true}
		case err != nil:
			msg = streamMsg{err: err}
		default:
			msg = streamMsg{chunk: chunk}
		}
		select {
		case events <- msg:
		case <-ctx.Done():
			return
		}
		if msg.done || msg.err != nil {
			return
		}
	}
}

// waitForStream delivers the next reply event. Update re-arms it after every
// chunk so events are applied one at a time, in order.
func waitForStream(events <-chan streamMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return streamMsg{done: true}
		}
		return msg
	}
}

func uploadJob(backend Backend, path string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		summary, err := backend.Upload(ctx, path)
		return uploadResultMsg{path: path, summary: summary, err: err}, err
	}
}

func exportJob(path string, turns []conversation.Turn, meta transcript.Meta) jobRunner {
	toExport := append([]conversation.Turn(nil), turns...)
	return func(ctx context.Context) (tea.Msg, error) {
		_, err := transcript.Export(path, toExport, meta)
		return exportResultMsg{path: path, turns: len(toExport), err: err}, err
	}
}

type slashCommand struct {
	name string
	arg  string
}

// parseSlashCommand recognizes composer input such as "/upload notes.pdf".
func parseSlashCommand(input string) (slashCommand, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return slashCommand{}, false
	}
	name, arg, _ := strings.Cut(input[1:], " ")
	switch name = strings.ToLower(name); name {
	case "upload", "export", "clear", "help":
		return slashCommand{name: name, arg: strings.TrimSpace(arg)}, true
	default:
		return slashCommand{}, false
	}
}

func trimmedTitle(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 60 {
		return value
	}
	return strings.TrimSpace(string(runes[:57])) + "…"
}
