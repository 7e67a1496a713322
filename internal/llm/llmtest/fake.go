// Package llmtest provides a scripted llm.Adapter for tests.
package llmtest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/llm"
)

// Script describes how a Fake replies.
type Script struct {
	// Chunks are delivered in order by every session stream.
	Chunks []string
	// FailAfter, when positive, makes the stream fail with StreamErr after that
	// many chunks have been delivered.
	FailAfter int
	StreamErr error
	// SendErr makes SendTurn fail before any chunk is produced.
	SendErr error

	Generated   string
	GenerateErr error
}

// Call records one SendTurn invocation.
type Call struct {
	History []conversation.Turn
	Content string
}

// Fake is an llm.Adapter driven by a Script. It is safe for concurrent use.
type Fake struct {
	Script Script

	mu       sync.Mutex
	sessions int
	calls    []Call
	prompts  []string
}

var _ llm.Adapter = (*Fake)(nil)

// NewFake returns a Fake that streams the given chunks.
func NewFake(chunks ...string) *Fake {
	return &Fake{Script: Script{Chunks: chunks}}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) StartSession(history []conversation.Turn) llm.Session {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()
	return &session{fake: f, history: append([]conversation.Turn(nil), history...)}
}

func (f *Fake) GenerateOnce(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.Script.GenerateErr != nil {
		return "", f.Script.GenerateErr
	}
	return f.Script.Generated, nil
}

// Sessions returns how many sessions were started.
func (f *Fake) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

// Calls returns every SendTurn invocation so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Prompts returns every GenerateOnce prompt so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// FullReply is the concatenation of the scripted chunks.
func (f *Fake) FullReply() string {
	return strings.Join(f.Script.Chunks, "")
}

type session struct {
	fake    *Fake
	history []conversation.Turn
}

func (s *session) SendTurn(ctx context.Context, content string) (llm.Stream, error) {
	s.fake.mu.Lock()
	s.fake.calls = append(s.fake.calls, Call{History: s.history, Content: content})
	s.fake.mu.Unlock()
	if s.fake.Script.SendErr != nil {
		return nil, s.fake.Script.SendErr
	}
	return NewScriptedStream(ctx, s.fake.Script.Chunks, s.fake.Script.FailAfter, s.fake.Script.StreamErr), nil
}

// ScriptedStream replays a fixed sequence of chunks, optionally failing part way.
type ScriptedStream struct {
	ctx       context.Context
	chunks    []string
	failAfter int
	err       error
	pos       int
	closed    bool
}

// NewScriptedStream builds a stream over chunks. A positive failAfter makes Recv
// return err once that many chunks were delivered.
func NewScriptedStream(ctx context.Context, chunks []string, failAfter int, err error) *ScriptedStream {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ScriptedStream{ctx: ctx, chunks: append([]string(nil), chunks...), failAfter: failAfter, err: err}
}

func (s *ScriptedStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.failAfter > 0 && s.pos >= s.failAfter && s.err != nil {
		return "", s.err
	}
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *ScriptedStream) Close() error {
	s.closed = true
	return nil
}
