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

type openAIClient struct {
	apiKey string
	model  string
	base   string
	client *http.Client
}

func (c *openAIClient) Name() string {
	return fmt.Sprintf("OpenAI (%s)", c.model)
}

func (c *openAIClient) StartSession(history []conversation.Turn) Session {
	return &openAISession{client: c, history: append([]conversation.Turn(nil), history...)}
}

func (c *openAIClient) GenerateOnce(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []chatMessage{
			{Role: string(conversation.RoleUser), Content: prompt},
		},
	}
	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "decode openai response")
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openai API returned no choices")
	}
	if strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", errors.New("openai API returned an empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

type openAISession struct {
	client  *openAIClient
	history []conversation.Turn
}

func (s *openAISession) SendTurn(ctx context.Context, content string) (Stream, error) {
	payload := map[string]any{
		"model":    s.client.model,
		"messages": chatMessages(s.history, content),
		"stream":   true,
	}
	resp, err := s.client.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	return newLineStream(resp.Body, decodeOpenAIEvent), nil
}

// decodeOpenAIEvent handles one server-sent-event line of a streamed completion.
func decodeOpenAIEvent(line []byte) (string, bool, error) {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		// event:, id: and comment lines carry no text.
		return "", false, nil
	}
	data = bytes.TrimSpace(data)
	if string(data) == "[DONE]" {
		return "", true, nil
	}
	var event struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return "", false, errors.Wrap(err, "decode openai stream event")
	}
	if event.Error != nil {
		return "", true, errors.Errorf("openai stream error: %s", event.Error.Message)
	}
	if len(event.Choices) == 0 {
		return "", false, nil
	}
	return event.Choices[0].Delta.Content, false, nil
}

func (c *openAIClient) post(ctx context.Context, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/chat/completions", c.base)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "openai request")
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("openai API error: %s (%s)", resp.Status, string(body))
	}
	return resp, nil
}
