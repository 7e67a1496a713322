package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/csheth/docchat/internal/conversation"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

func (c *ollamaClient) Name() string {
	return fmt.Sprintf("Ollama (%s)", c.model)
}

func (c *ollamaClient) StartSession(history []conversation.Turn) Session {
	return &ollamaSession{client: c, history: append([]conversation.Turn(nil), history...)}
}

func (c *ollamaClient) GenerateOnce(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
	}
	resp, err := c.post(ctx, "/api/generate", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "decode ollama response")
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return "", errors.New("ollama returned an empty response")
	}
	return parsed.Response, nil
}

type ollamaSession struct {
	client  *ollamaClient
	history []conversation.Turn
}

func (s *ollamaSession) SendTurn(ctx context.Context, content string) (Stream, error) {
	payload := map[string]any{
		"model":    s.client.model,
		"messages": chatMessages(s.history, content),
		"stream":   true,
	}
	resp, err := s.client.post(ctx, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	return newLineStream(resp.Body, decodeOllamaChatLine), nil
}

func decodeOllamaChatLine(line []byte) (string, bool, error) {
	var event struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Done  bool   `json:"done"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &event); err != nil {
		return "", false, errors.Wrap(err, "decode ollama stream line")
	}
	if event.Error != "" {
		return "", true, errors.Errorf("ollama stream error: %s", event.Error)
	}
	return event.Message.Content, event.Done, nil
}

// post issues a JSON request and returns the open response on success.
func (c *ollamaClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ollama request")
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("ollama API error: %s (%s)", resp.Status, string(body))
	}
	return resp, nil
}
