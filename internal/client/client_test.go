package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/document"
	"github.com/csheth/docchat/internal/llm/llmtest"
	"github.com/csheth/docchat/internal/server"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func drain(t *testing.T, s *ReplyStream) []string {
	t.Helper()
	var chunks []string
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestReplyStreamHoldsBackSplitRunes(t *testing.T) {
	t.Parallel()

	text := "héllo wörld, ça va? 日本語"
	s := &ReplyStream{body: io.NopCloser(iotest.OneByteReader(strings.NewReader(text))), buf: make([]byte, 8)}
	chunks := drain(t, s)
	for _, chunk := range chunks {
		require.True(t, utf8.ValidString(chunk), "chunk %q split a rune", chunk)
	}
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestReplyStreamSurfacesTruncation(t *testing.T) {
	t.Parallel()

	boom := errors.New("unexpected EOF")
	body := io.MultiReader(strings.NewReader("partial "), iotest.ErrReader(boom))
	s := &ReplyStream{body: io.NopCloser(body), buf: make([]byte, 64)}

	chunk, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "partial ", chunk)
	_, err = s.Recv()
	require.ErrorIs(t, err, boom)
}

func TestChatAgainstServer(t *testing.T) {
	t.Parallel()

	fake := llmtest.NewFake("Hel", "lo ", "there.")
	ts := httptest.NewServer(server.New(fake, server.Options{}, zerolog.Nop()).Handler())
	defer ts.Close()

	stream, err := New(ts.URL, nil).Chat(context.Background(), []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Hi"},
	})
	require.NoError(t, err)
	defer stream.Close()
	require.Equal(t, fake.FullReply(), strings.Join(drain(t, stream), ""))
}

func TestHealthReportsModel(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(server.New(llmtest.NewFake(), server.Options{}, zerolog.Nop()).Handler())
	defer ts.Close()

	model, err := New(ts.URL, nil).Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fake", model)
}

func TestChatDecodesErrorBody(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Error sending message to chat model"}`))
	}))
	defer ts.Close()

	_, err := New(ts.URL, nil).Chat(context.Background(), []conversation.Turn{{Role: conversation.RoleUser, Content: "Hi"}})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.Equal(t, "Error sending message to chat model", statusErr.Error())
}

func TestChatFallsBackToStatusText(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>proxy error</html>"))
	}))
	defer ts.Close()

	_, err := New(ts.URL, nil).Chat(context.Background(), nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "Bad Gateway", statusErr.Message)
}

func TestUploadRejectsUnsupportedTypeLocally(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG"), 0o644))

	_, err := New(ts.URL, nil).Upload(context.Background(), path)
	require.ErrorIs(t, err, document.ErrUnsupportedMediaType)
	require.Zero(t, hits.Load())
}

func TestUploadSendsDeclaredType(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "notes.txt", header.Filename)
		assert.Equal(t, document.MediaTypeText, header.Header.Get("Content-Type"))
		assert.Equal(t, "The sky is blue.", string(data))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"summary":"Sky: blue."}`))
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("The sky is blue."), 0o644))

	summary, err := New(ts.URL, nil).Upload(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "Sky: blue.", summary)
}

func TestUploadReportsServerDetails(t *testing.T) {
	t.Parallel()

	fake := llmtest.NewFake()
	fake.Script.GenerateErr = errors.New("quota exceeded")
	ts := httptest.NewServer(server.New(fake, server.Options{}, zerolog.Nop()).Handler())
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("words"), 0o644))

	_, err := New(ts.URL, nil).Upload(context.Background(), path)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "Error processing file", statusErr.Message)
	require.Contains(t, statusErr.Details, "quota exceeded")
}
