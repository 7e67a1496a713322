// Package config loads docchat settings from a TOML file and the environment.
//
// Precedence, lowest to highest: defaults, file, environment, command-line
// flags. Flags are applied by the caller after Load.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/csheth/docchat/internal/llm"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "docchat.toml"

const (
	defaultAddr           = ":3000"
	defaultMaxUploadBytes = 10 << 20
	defaultServerURL      = "http://localhost:3000"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	LLM    LLMConfig    `toml:"llm"`
	Client ClientConfig `toml:"client"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Addr           string  `toml:"addr"`
	MaxUploadBytes int64   `toml:"max_upload_bytes"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

type LLMConfig struct {
	Backend  string `toml:"backend"`
	Model    string `toml:"model"`
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

type ClientConfig struct {
	ServerURL string `toml:"server_url"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           defaultAddr,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		LLM:    LLMConfig{Backend: string(llm.BackendGemini)},
		Client: ClientConfig{ServerURL: defaultServerURL},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path falls back to DefaultPath when that file exists.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to decode config %s", path)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from the process environment.
//   - GOOGLE_API_KEY, DOCCHAT_API_KEY: llm.api_key (the latter wins)
//   - DOCCHAT_BACKEND, DOCCHAT_MODEL, DOCCHAT_ENDPOINT: llm section
//   - DOCCHAT_ADDR: server.addr
//   - DOCCHAT_SERVER_URL: client.server_url
//   - DOCCHAT_MAX_UPLOAD_BYTES: server.max_upload_bytes
func (c *Config) ApplyEnv() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("DOCCHAT_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if backend := os.Getenv("DOCCHAT_BACKEND"); backend != "" {
		c.LLM.Backend = backend
	}
	if model := os.Getenv("DOCCHAT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if endpoint := os.Getenv("DOCCHAT_ENDPOINT"); endpoint != "" {
		c.LLM.Endpoint = endpoint
	}
	if addr := os.Getenv("DOCCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if serverURL := os.Getenv("DOCCHAT_SERVER_URL"); serverURL != "" {
		c.Client.ServerURL = serverURL
	}
	if raw := os.Getenv("DOCCHAT_MAX_UPLOAD_BYTES"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Server.MaxUploadBytes = n
		}
	}
}

// ValidationError names one bad setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every bad setting found by Validate.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks value ranges. It does not check for a credential; that is
// the adapter's job at startup.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch llm.Backend(strings.ToLower(c.LLM.Backend)) {
	case "", llm.BackendGemini, llm.BackendOllama, llm.BackendOpenAI:
	default:
		errs = append(errs, ValidationError{
			Field:   "llm.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: gemini, ollama, openai", c.LLM.Backend),
		})
	}
	if c.LLM.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.LLM.Endpoint); err != nil {
			errs = append(errs, ValidationError{Field: "llm.endpoint", Message: fmt.Sprintf("invalid URL: %v", err)})
		}
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, ValidationError{Field: "server.max_upload_bytes", Message: "must be positive"})
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_rps", Message: "cannot be negative"})
	}
	if c.Server.RateLimitBurst < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_burst", Message: "cannot be negative"})
	}
	if _, err := url.ParseRequestURI(c.Client.ServerURL); err != nil {
		errs = append(errs, ValidationError{Field: "client.server_url", Message: fmt.Sprintf("invalid URL: %v", err)})
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: err.Error()})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// LLMSettings converts the llm section into adapter settings.
func (c *Config) LLMSettings() llm.Config {
	return llm.Config{
		Backend:  llm.Backend(c.LLM.Backend),
		Model:    c.LLM.Model,
		Endpoint: c.LLM.Endpoint,
		APIKey:   c.LLM.APIKey,
	}
}
