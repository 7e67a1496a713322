package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/csheth/docchat/internal/llm/llmtest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(fake *llmtest.Fake, opts Options) *Server {
	return New(fake, opts, zerolog.Nop())
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestChatStreamsPlainText(t *testing.T) {
	fake := llmtest.NewFake("Hel", "lo ", "there.")
	srv := newTestServer(fake, Options{})

	rec := postJSON(t, srv.Handler(), "/api/chat", `{"messages":[{"role":"assistant","content":"Summary."},{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "Hello there.", rec.Body.String())
	require.True(t, rec.Flushed)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "Hi", calls[0].Content)
	require.Len(t, calls[0].History, 1)
}

func TestChatRejectsInvalidMessages(t *testing.T) {
	bodies := map[string]string{
		"not json":     `{"messages":`,
		"missing":      `{}`,
		"empty":        `{"messages":[]}`,
		"not an array": `{"messages":"hello"}`,
		"unknown role": `{"messages":[{"role":"system","content":"x"}]}`,
		"numeric role": `{"messages":[{"role":1,"content":"x"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			fake := llmtest.NewFake("never")
			rec := postJSON(t, newTestServer(fake, Options{}).Handler(), "/api/chat", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, map[string]string{"error": "Invalid messages format"}, decodeBody(t, rec))
			require.Zero(t, fake.Sessions())
		})
	}
}

func TestChatUpstreamFailureBeforeFirstChunk(t *testing.T) {
	fake := llmtest.NewFake()
	fake.Script.SendErr = errors.New("model unavailable")

	rec := postJSON(t, newTestServer(fake, Options{}).Handler(), "/api/chat", `{"messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, map[string]string{"error": "Error sending message to chat model"}, decodeBody(t, rec))
}

func TestChatFailureAfterFirstChunkTruncatesStream(t *testing.T) {
	fake := llmtest.NewFake("one ", "two ", "three")
	fake.Script.FailAfter = 2
	fake.Script.StreamErr = errors.New("upstream reset")

	ts := httptest.NewServer(newTestServer(fake, Options{}).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"count"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, readErr := io.ReadAll(resp.Body)
	require.Error(t, readErr)
	require.Equal(t, "one two ", string(body))
}

func newUpload(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadSummarizesTextFile(t *testing.T) {
	fake := llmtest.NewFake()
	fake.Script.Generated = "The document says the sky is blue."

	body, ct := newUpload(t, "file", "sky.txt", "text/plain", []byte("The sky is blue."))
	rec := doUpload(t, newTestServer(fake, Options{}).Handler(), body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, map[string]string{"summary": "The document says the sky is blue."}, decodeBody(t, rec))

	prompts := fake.Prompts()
	require.Len(t, prompts, 1)
	require.True(t, strings.HasSuffix(prompts[0], "\n\nThe sky is blue."))
}

func TestUploadWithoutFile(t *testing.T) {
	fake := llmtest.NewFake()
	h := newTestServer(fake, Options{}).Handler()

	body, ct := newUpload(t, "other", "a.txt", "text/plain", []byte("x"))
	rec := doUpload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]string{"error": "No file uploaded"}, decodeBody(t, rec))

	rec = doUpload(t, h, strings.NewReader("plain body"), "text/plain")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]string{"error": "No file uploaded"}, decodeBody(t, rec))
	require.Empty(t, fake.Prompts())
}

func TestUploadTooLarge(t *testing.T) {
	fake := llmtest.NewFake()
	body, ct := newUpload(t, "file", "big.txt", "text/plain", bytes.Repeat([]byte("a"), 64))
	rec := doUpload(t, newTestServer(fake, Options{MaxUploadBytes: 8}).Handler(), body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]string{"error": "File too large"}, decodeBody(t, rec))
	require.Empty(t, fake.Prompts())
}

func TestUploadSummarizationFailure(t *testing.T) {
	fake := llmtest.NewFake()
	fake.Script.GenerateErr = errors.New("quota exceeded")

	body, ct := newUpload(t, "file", "a.txt", "text/plain", []byte("content"))
	rec := doUpload(t, newTestServer(fake, Options{}).Handler(), body, ct)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decodeBody(t, rec)
	require.Equal(t, "Error processing file", out["error"])
	require.Contains(t, out["details"], "quota exceeded")
}

func TestHealthReportsModel(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	newTestServer(llmtest.NewFake(), Options{}).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"status": "ok", "model": "fake"}, decodeBody(t, rec))
	require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestRateLimitRejectsBurst(t *testing.T) {
	h := newTestServer(llmtest.NewFake("ok"), Options{RateLimitRPS: 0.001, RateLimitBurst: 1}).Handler()
	body := `{"messages":[{"role":"user","content":"Hi"}]}`

	require.Equal(t, http.StatusOK, postJSON(t, h, "/api/chat", body).Code)
	rec := postJSON(t, h, "/api/chat", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer(llmtest.NewFake(), Options{}).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
