package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/document"
	"github.com/csheth/docchat/internal/relay"
)

const (
	msgInvalidMessages = "Invalid messages format"
	msgChatFailed      = "Error sending message to chat model"
	msgNoFile          = "No file uploaded"
	msgFileTooLarge    = "File too large"
	msgProcessFailed   = "Error processing file"
)

type chatRequest struct {
	Messages []conversation.Turn `json:"messages"`
}

// chat streams the model's reply to the last message as raw text. The status
// line is only committed once the first chunk arrives, so failures before
// that still get a JSON error body.
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidMessages})
		return
	}

	started := false
	emit := func(chunk string) error {
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Content-Type-Options", "nosniff")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	_, err := s.relay.Stream(c.Request.Context(), req.Messages, emit)
	switch {
	case err == nil:
		if !started {
			// Empty reply: still a successful, empty text body.
			c.Data(http.StatusOK, "text/plain; charset=utf-8", nil)
		}
	case relay.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidMessages})
	case !started:
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgChatFailed})
	default:
		s.logger.Warn().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("chat stream aborted after first chunk")
		abortStream(c)
	}
}

// abortStream drops the connection without the terminating chunk so the
// client sees a truncated body rather than a clean end of reply. Writers that
// cannot be hijacked leave the body cleanly terminated.
func abortStream(c *gin.Context) {
	defer func() { _ = recover() }()
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// upload extracts the text of a multipart "file" field and returns its
// summary. The declared type picks the extractor; acceptance was decided by
// the client.
func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgFileTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}
	if header.Size > s.opts.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgFileTooLarge})
		return
	}

	logger := s.logger.With().
		Str("request_id", c.GetString(requestIDKey)).
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Logger()

	fail := func(err error) {
		logger.Error().Err(err).Msg("upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgProcessFailed, "details": err.Error()})
	}

	file, err := header.Open()
	if err != nil {
		fail(errors.Wrap(err, "open upload"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		fail(errors.Wrap(err, "read upload"))
		return
	}

	text, err := document.Extract(header.Header.Get("Content-Type"), data)
	if err != nil {
		fail(err)
		return
	}
	summary, err := s.summarizer.Summarize(c.Request.Context(), text)
	if err != nil {
		fail(err)
		return
	}
	logger.Info().Int("summary_len", len(summary)).Msg("document summarized")
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.adapter.Name()})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
