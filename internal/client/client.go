// Package client talks to a docchat server: it streams chat replies and
// uploads documents for summarization.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/csheth/docchat/internal/conversation"
	"github.com/csheth/docchat/internal/document"
)

// StatusError is a non-2xx response. Message is the server's "error" field,
// or the status text when the body carried none.
type StatusError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *StatusError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. A nil httpClient uses a
// client without an overall timeout, since replies stream for as long as the
// model keeps producing.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Chat posts the turns and returns the reply as an incremental stream.
func (c *Client) Chat(ctx context.Context, turns []conversation.Turn) (*ReplyStream, error) {
	payload, err := json.Marshal(struct {
		Messages []conversation.Turn `json:"messages"`
	}{Messages: turns})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "chat request")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeStatusError(resp)
	}
	return &ReplyStream{body: resp.Body, buf: make([]byte, 4096)}, nil
}

// Upload sends the file at path for summarization and returns the summary.
// Files whose declared type is not accepted are rejected before any request
// is made.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	mediaType, err := document.ValidateMediaType(document.MediaTypeForPath(path))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read upload")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(filepath.Base(path))+`"`)
	header.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeStatusError(resp)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode upload response")
	}
	return out.Summary, nil
}

// Health asks the server which model it relays to.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "health request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeStatusError(resp)
	}
	var out struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode health response")
	}
	return out.Model, nil
}

func decodeStatusError(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		statusErr.Message = body.Error
		statusErr.Details = body.Details
	}
	return statusErr
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// ReplyStream yields the reply body as it arrives. A multi-byte character
// split across reads is held back until it is complete.
type ReplyStream struct {
	body    io.ReadCloser
	buf     []byte
	pending []byte
	err     error
}

// Recv returns the next piece of decoded text, or io.EOF once the body ends.
// A body that ends abruptly surfaces the transport error after any complete
// text read before it.
func (s *ReplyStream) Recv() (string, error) {
	for s.err == nil {
		n, err := s.body.Read(s.buf)
		s.pending = append(s.pending, s.buf[:n]...)
		if err != nil {
			s.err = err
			break
		}
		if text := s.takeComplete(); text != "" {
			return text, nil
		}
	}
	if len(s.pending) > 0 {
		var text string
		if s.err == io.EOF {
			text = strings.ToValidUTF8(string(s.pending), "\uFFFD")
		} else {
			text = s.takeComplete()
		}
		s.pending = nil
		if text != "" {
			return text, nil
		}
	}
	return "", s.err
}

// takeComplete splits off the longest prefix of pending that ends on a rune
// boundary.
func (s *ReplyStream) takeComplete() string {
	cut := len(s.pending)
	for i := 1; i <= utf8.UTFMax && i <= len(s.pending); i++ {
		if !utf8.RuneStart(s.pending[len(s.pending)-i]) {
			continue
		}
		if !utf8.FullRune(s.pending[len(s.pending)-i:]) {
			cut = len(s.pending) - i
		}
		break
	}
	text := string(s.pending[:cut])
	s.pending = append(s.pending[:0], s.pending[cut:]...)
	return text
}

func (s *ReplyStream) Close() error {
	if s.err == nil {
		s.err = io.EOF
	}
	s.pending = nil
	return s.body.Close()
}
