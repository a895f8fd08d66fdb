package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"copilot/internal/config"
	"copilot/internal/loader"
	"copilot/internal/service"
	"copilot/internal/watcher"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := NewMain()
	if err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program.
type Main struct {
	Config  *config.AppConfig
	Engine  *service.Engine
	Watcher *watcher.Watcher

	logFile *os.File
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{}
}

// Close releases the watcher and log file, if any.
func (m *Main) Close() error {
	var err error
	if m.Watcher != nil {
		err = m.Watcher.Close()
	}
	if m.logFile != nil {
		if cerr := m.logFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Run executes the CLI with the given arguments.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	deps := &Dependencies{
		Ctx:    ctx,
		Stdout: stdout,
		Stderr: stderr,
	}

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("copilot"),
		kong.Description("Answer questions from a local corpus of course material."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}), // Don't exit on help
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'copilot --help' to see available commands")
	}
	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := m.loadConfig(cli)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	m.Config = cfg
	deps.Config = cfg

	// The TUI owns the terminal, so "ask" only logs when a log file is given.
	logOut := stderr
	switch {
	case cli.LogFile != "":
		f, err := os.OpenFile(cli.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		m.logFile = f
		logOut = f
	case strings.HasPrefix(kongCtx.Command(), "ask"):
		logOut = io.Discard
	}
	defer m.Close()
	logger := NewLogger(logOut, cfg.Log)
	deps.Logger = logger

	ld := loader.New(
		loader.WithExtensions(cfg.Corpus.Extensions...),
		loader.WithPDF(cfg.Corpus.PDFEnabled()),
		loader.WithLogger(logger),
	)
	m.Engine, err = service.NewEngine(cfg.RAG, cfg.Corpus.Dir, service.WithLogger(logger), service.WithLoader(ld))
	if err != nil {
		return err
	}
	deps.Engine = m.Engine

	if strings.HasPrefix(kongCtx.Command(), "ask") && (cli.Ask.Watch || cfg.Watcher.Enabled) {
		w, err := watcher.New(cfg.Corpus.Dir, cfg.Corpus.Extensions,
			watcher.WithDebounce(time.Duration(cfg.Watcher.DebounceMS)*time.Millisecond),
			watcher.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("corpus watcher disabled", "error", err)
		} else {
			m.Watcher = w
			deps.Watcher = w
		}
	}

	return kongCtx.Run(deps)
}

// loadConfig reads the config file, then applies environment and flag overrides.
func (m *Main) loadConfig(cli *CLI) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cli.Config != "" {
		cfg, err = config.Load(cli.Config)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if cli.Corpus != "" {
		cfg.Corpus.Dir = cli.Corpus
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	return cfg, nil
}

// NewLogger builds the process logger from the log configuration. Unknown
// levels fall back to info.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
