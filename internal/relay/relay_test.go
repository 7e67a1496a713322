package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/llm/llmtest"
)

func user(content string) conversation.Turn {
	return conversation.Turn{Role: conversation.RoleUser, Content: content}
}

func assistant(content string) conversation.Turn {
	return conversation.Turn{Role: conversation.RoleAssistant, Content: content}
}

func TestStreamForwardsChunksInOrder(t *testing.T) {
	t.Parallel()

	fake := llmtest.NewFake("Hel", "lo ", "there.")
	r := New(fake, zerolog.Nop())

	var got []string
	res, err := r.Stream(context.Background(), []conversation.Turn{
		assistant("Summary of the doc."),
		user("Hi"),
	}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo ", "there."}, got)
	require.Equal(t, StateComplete, res.State)
	require.Equal(t, 3, res.Chunks)
	require.Equal(t, len("Hello there."), res.Bytes)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "Hi", calls[0].Content)
	require.Equal(t, []conversation.Turn{assistant("Summary of the doc.")}, calls[0].History)
}

func TestStreamSingleTurnHasEmptyHistory(t *testing.T) {
	t.Parallel()

	fake := llmtest.NewFake("ok")
	_, err := New(fake, zerolog.Nop()).Stream(context.Background(), []conversation.Turn{user("Hi")}, func(string) error { return nil })
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Empty(t, calls[0].History)
}

func TestStreamRejectsInvalidInputWithoutCallingModel(t *testing.T) {
	t.Parallel()

	cases := map[string][]conversation.Turn{
		"empty":        nil,
		"unknown role": {user("hi"), {Role: "system", Content: "x"}},
	}
	for name, turns := range cases {
		turns := turns
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fake := llmtest.NewFake("never")
			res, err := New(fake, zerolog.Nop()).Stream(context.Background(), turns, func(string) error {
				t.Fatal("emit must not be called")
				return nil
			})
			require.True(t, IsValidation(err), "got %v", err)
			require.Equal(t, StateFailed, res.State)
			require.Zero(t, fake.Sessions())
			require.Empty(t, fake.Calls())
		})
	}
}

func TestStreamReportsSendFailureAsUpstream(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	fake := llmtest.NewFake()
	fake.Script.SendErr = cause

	_, err := New(fake, zerolog.Nop()).Stream(context.Background(), []conversation.Turn{user("Hi")}, func(string) error { return nil })
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, StateStreaming, upstream.State)
	require.ErrorIs(t, err, cause)
	require.False(t, IsValidation(err))
}

func TestStreamMidStreamFailureKeepsDeliveredChunks(t *testing.T) {
	t.Parallel()

	cause := errors.New("upstream reset")
	fake := llmtest.NewFake("one ", "two ", "three")
	fake.Script.FailAfter = 2
	fake.Script.StreamErr = cause

	var got strings.Builder
	res, err := New(fake, zerolog.Nop()).Stream(context.Background(), []conversation.Turn{user("count")}, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, 2, res.Chunks)
	require.Equal(t, "one two ", got.String())
}

func TestStreamStopsWhenEmitFails(t *testing.T) {
	t.Parallel()

	fake := llmtest.NewFake("a", "b", "c")
	writeErr := errors.New("client went away")
	calls := 0
	_, err := New(fake, zerolog.Nop()).Stream(context.Background(), []conversation.Turn{user("x")}, func(string) error {
		calls++
		return writeErr
	})
	require.ErrorIs(t, err, writeErr)
	require.Equal(t, 1, calls)
}

func TestStreamHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := llmtest.NewFake("a", "b")
	_, err := New(fake, zerolog.Nop()).Stream(ctx, []conversation.Turn{user("x")}, func(string) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "session-open", StateSessionOpen.String())
	require.Equal(t, "unknown", State(42).String())
}
