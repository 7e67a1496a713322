// Package relay forwards one conversational turn to the model and passes the
// streamed reply back to the caller chunk by chunk.
//
// Each call walks Validating → SessionOpen → Streaming and ends in Complete or
// Failed. Validation failures and upstream failures are reported with distinct
// error types so the HTTP layer can map them to 4xx and 5xx responses.
package relay

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/llm"
)

// State is a step of the per-request relay state machine.
type State int

const (
	StateValidating State = iota
	StateSessionOpen
	StateStreaming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateSessionOpen:
		return "session-open"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ValidationError is returned when the incoming turn list is malformed. The
// model is never contacted in that case.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid messages: " + e.Reason
}

// UpstreamError wraps any failure while opening the session or streaming.
type UpstreamError struct {
	State State
	Cause error
}

func (e *UpstreamError) Error() string {
	return "relay " + e.State.String() + ": " + e.Cause.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// IsValidation reports whether err is a client-input error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Emit receives each chunk as soon as the model produces it.
type Emit func(chunk string) error

// Result summarizes a finished relay call.
type Result struct {
	State    State
	Chunks   int
	Bytes    int
	Duration time.Duration
}

// Relay dispatches turns to a model adapter. It holds no per-request state and
// is safe for concurrent use.
type Relay struct {
	adapter llm.Adapter
	logger  zerolog.Logger
}

// New returns a Relay using adapter for every request.
func New(adapter llm.Adapter, logger zerolog.Logger) *Relay {
	return &Relay{adapter: adapter, logger: logger.With().Str("component", "relay").Logger()}
}

// Stream validates turns, opens a session on all but the last turn, sends the
// last turn and forwards every chunk to emit in arrival order. Cancelling ctx
// aborts the in-flight call.
func (r *Relay) Stream(ctx context.Context, turns []conversation.Turn, emit Emit) (Result, error) {
	started := time.Now()
	res := Result{State: StateValidating}
	logger := r.logger.With().Int("turns", len(turns)).Logger()

	transition := func(next State) {
		logger.Debug().Str("from", res.State.String()).Str("to", next.String()).Msg("relay transition")
		res.State = next
	}
	fail := func(err error) (Result, error) {
		failedIn := res.State
		transition(StateFailed)
		res.Duration = time.Since(started)
		if _, ok := err.(*ValidationError); ok {
			return res, err
		}
		logger.Error().Err(err).Str("state", failedIn.String()).Int("chunks", res.Chunks).Msg("relay failed")
		return res, &UpstreamError{State: failedIn, Cause: err}
	}

	if err := validate(turns); err != nil {
		return fail(err)
	}

	transition(StateSessionOpen)
	history, newTurn, err := conversation.Split(turns)
	if err != nil {
		return fail(err)
	}
	session := r.adapter.StartSession(history)

	transition(StateStreaming)
	stream, err := session.SendTurn(ctx, newTurn)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}
		if err := emit(chunk); err != nil {
			return fail(errors.Wrap(err, "emit chunk"))
		}
		res.Chunks++
		res.Bytes += len(chunk)
	}

	transition(StateComplete)
	res.Duration = time.Since(started)
	logger.Info().
		Int("chunks", res.Chunks).
		Int("bytes", res.Bytes).
		Dur("duration", res.Duration).
		Msg("relay complete")
	return res, nil
}

func validate(turns []conversation.Turn) error {
	if len(turns) == 0 {
		return &ValidationError{Reason: "no messages"}
	}
	for i, turn := range turns {
		if err := turn.Validate(); err != nil {
			return &ValidationError{Reason: errors.Wrapf(err, "message %d", i).Error()}
		}
	}
	return nil
}
