package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/csheth/docchat/internal/conversation"
)

type geminiAdapter struct {
	client *genai.Client
	model  string
}

func newGeminiAdapter(ctx context.Context, cfg Config) (*geminiAdapter, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return &geminiAdapter{client: client, model: pickModel(cfg.Model, defaultGeminiModel)}, nil
}

func (a *geminiAdapter) Name() string {
	return fmt.Sprintf("Gemini (%s)", a.model)
}

func (a *geminiAdapter) StartSession(history []conversation.Turn) Session {
	return &geminiSession{adapter: a, history: geminiHistory(history)}
}

func (a *geminiAdapter) GenerateOnce(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", errors.Wrap(err, "gemini generate")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}

type geminiSession struct {
	adapter *geminiAdapter
	history []*genai.Content
}

func (s *geminiSession) SendTurn(ctx context.Context, content string) (Stream, error) {
	chat, err := s.adapter.client.Chats.Create(ctx, s.adapter.model, nil, s.history)
	if err != nil {
		return nil, errors.Wrap(err, "open gemini chat")
	}
	responses := chat.SendMessageStream(ctx, genai.Part{Text: content})
	return newSeqStream(geminiText(responses)), nil
}

func geminiText(responses iter.Seq2[*genai.GenerateContentResponse, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range responses {
			if err != nil {
				yield("", errors.Wrap(err, "gemini stream"))
				return
			}
			if resp == nil {
				continue
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}

func geminiHistory(turns []conversation.Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		history = append(history, genai.NewContentFromText(turn.Content, role))
	}
	return history
}
