package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/csheth/docchat/internal/conversation"
)

// Backend names the remote model service an Adapter talks to.
type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendOllama Backend = "ollama"
	BackendOpenAI Backend = "openai"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	defaultOllamaModel = "ministral-3:latest"
	defaultOllamaHost  = "http://localhost:11434"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOpenAIBase  = "https://api.openai.com/v1"
)

// defaultLLMHeaderTimeout bounds the wait for response headers. Streamed
// bodies are not timed; the caller's context ends them.
const defaultLLMHeaderTimeout = 3 * time.Minute

// ErrMissingCredential is returned at initialization when the backend needs an
// API key and none was configured.
var ErrMissingCredential = errors.New("missing model API credential")

// Config describes how to build an Adapter.
type Config struct {
	Backend    Backend
	Model      string
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Adapter wraps a remote generative model.
type Adapter interface {
	// StartSession binds prior turns to a new chat session. It does not touch
	// the network.
	StartSession(history []conversation.Turn) Session
	// GenerateOnce runs a stateless single-turn call and blocks until the full
	// result is available.
	GenerateOnce(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Session sends exactly one new turn on top of its bound history.
type Session interface {
	SendTurn(ctx context.Context, content string) (Stream, error)
}

// Stream is the ordered, finite reply to one turn. Recv returns io.EOF once the
// reply is complete; a stream cannot be restarted. Concatenating every chunk in
// delivery order reproduces the full reply.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// NewFromConfig initializes the adapter for the configured backend. It fails
// fast when a credentialed backend has no API key.
func NewFromConfig(ctx context.Context, cfg Config) (Adapter, error) {
	backend := Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))
	if backend == "" {
		backend = BackendGemini
	}
	switch backend {
	case BackendGemini:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, ErrMissingCredential
		}
		return newGeminiAdapter(ctx, cfg)
	case BackendOpenAI:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, ErrMissingCredential
		}
		base := strings.TrimRight(cfg.Endpoint, "/")
		if base == "" {
			base = defaultOpenAIBase
		}
		return &openAIClient{
			apiKey: cfg.APIKey,
			model:  pickModel(cfg.Model, defaultOpenAIModel),
			base:   base,
			client: pickHTTPClient(cfg.HTTPClient),
		}, nil
	case BackendOllama:
		host := strings.TrimRight(cfg.Endpoint, "/")
		if host == "" {
			host = defaultOllamaHost
		}
		return &ollamaClient{
			host:   host,
			model:  pickModel(cfg.Model, defaultOllamaModel),
			client: pickHTTPClient(cfg.HTTPClient),
		}, nil
	default:
		return nil, errors.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

func pickModel(model, fallback string) string {
	if model = strings.TrimSpace(model); model != "" {
		return model
	}
	return fallback
}

func pickHTTPClient(custom *http.Client) *http.Client {
	if custom != nil {
		return custom
	}
	return newStreamingHTTPClient(defaultLLMHeaderTimeout)
}

// newStreamingHTTPClient returns a client without an overall timeout, so a
// reply may stream for as long as the model keeps producing.
func newStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// chatMessage is the role/content pair shared by the Ollama and OpenAI chat APIs.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatMessages(history []conversation.Turn, content string) []chatMessage {
	messages := make([]chatMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	return append(messages, chatMessage{Role: string(conversation.RoleUser), Content: content})
}
