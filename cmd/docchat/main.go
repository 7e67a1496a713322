package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/csheth/docchat/internal/client"
	"github.com/csheth/docchat/internal/config"
	"github.com/csheth/docchat/internal/llm"
	"github.com/csheth/docchat/internal/server"
	"github.com/csheth/docchat/internal/tui"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "docchat",
		Short: "Summarize a document, then chat about it",
		Long: `docchat uploads a document to a language model, shows its summary and
keeps a streamed multi-turn conversation about it.

Run "docchat serve" to start the HTTP relay and "docchat chat" to open the
terminal client against it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a TOML config file (default ./docchat.toml when present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "append logs to this file")

	root.AddCommand(newServeCommand(flags), newChatCommand(flags))
	return root
}

// flagBinding names the setting a string flag overrides.
type flagBinding func(cfg *config.Config) *string

// loadConfig resolves settings from file and environment, then applies any
// flag the user set explicitly.
func loadConfig(cmd *cobra.Command, flags *rootFlags, bindings map[string]flagBinding) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = flags.logFile
	}
	for name, bind := range bindings {
		if cmd.Flags().Changed(name) {
			value, _ := cmd.Flags().GetString(name)
			*bind(cfg) = value
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. out receives console output when no
// log file is configured; a nil out discards it.
func newLogger(cfg config.LogConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), func() {}, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	closer := func() {}
	var w io.Writer
	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, errors.Wrapf(err, "open log file %s", cfg.File)
		}
		w = f
		closer = func() { _ = f.Close() }
	case out != nil:
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		w = io.Discard
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay and summarization HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, map[string]flagBinding{
				"addr":     func(c *config.Config) *string { return &c.Server.Addr },
				"backend":  func(c *config.Config) *string { return &c.LLM.Backend },
				"model":    func(c *config.Config) *string { return &c.LLM.Model },
				"endpoint": func(c *config.Config) *string { return &c.LLM.Endpoint },
			})
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :3000)")
	cmd.Flags().String("backend", "", "model backend: gemini, openai, ollama")
	cmd.Flags().String("model", "", "model name for the backend")
	cmd.Flags().String("endpoint", "", "backend base URL (openai, ollama)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, closeLog, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := llm.NewFromConfig(ctx, cfg.LLMSettings())
	if err != nil {
		if errors.Is(err, llm.ErrMissingCredential) {
			logger.Error().Str("backend", cfg.LLM.Backend).Msg("no API key configured; set GOOGLE_API_KEY or DOCCHAT_API_KEY")
		}
		return errors.Wrap(err, "initialize model adapter")
	}
	logger.Info().Str("backend", cfg.LLM.Backend).Str("model", adapter.Name()).Msg("model adapter ready")

	srv := server.New(adapter, server.Options{
		Addr:           cfg.Server.Addr,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, logger)
	return srv.Run(ctx)
}

func newChatCommand(flags *rootFlags) *cobra.Command {
	var noAltScreen bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal chat client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, map[string]flagBinding{
				"server": func(c *config.Config) *string { return &c.Client.ServerURL },
			})
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, noAltScreen)
		},
	}
	cmd.Flags().String("server", "", "docchat server URL (default http://localhost:3000)")
	cmd.Flags().BoolVar(&noAltScreen, "no-alt-screen", false, "disable the alternate screen buffer")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, noAltScreen bool) error {
	// The terminal belongs to bubbletea, so logs only go to a file.
	logger, closeLog, err := newLogger(cfg.Log, nil)
	if err != nil {
		return err
	}
	defer closeLog()

	if ctx == nil {
		ctx = context.Background()
	}
	api := client.New(cfg.Client.ServerURL, nil)

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	modelName, err := api.Health(probeCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("server", cfg.Client.ServerURL).Msg("server health check failed")
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if !noAltScreen {
		opts = append(opts, tea.WithAltScreen(), tea.WithMouseCellMotion())
	}
	program := tea.NewProgram(tui.New(tui.Config{
		Backend:   tui.NewHTTPBackend(api),
		ModelName: modelName,
		ServerURL: cfg.Client.ServerURL,
		Context:   ctx,
		Logger:    logger,
	}), opts...)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "run chat client")
	}
	return nil
}
