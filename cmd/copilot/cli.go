package main

import (
	"context"
	"io"
	"log/slog"

	"copilot/internal/config"
	"copilot/internal/domain"
	"copilot/internal/tui"
	"copilot/internal/watcher"
)

// Engine is the retrieval engine as used by the commands.
type Engine interface {
	tui.Port
	Query(ctx context.Context, text string, topK int) []domain.SearchResult
	Ensure(ctx context.Context) error
	LastReport() domain.BuildReport
	CorpusDir() string
}

// Dependencies holds all services and configuration for command execution.
type Dependencies struct {
	Ctx     context.Context
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
	Config  *config.AppConfig
	Engine  Engine
	Watcher *watcher.Watcher
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config   string `short:"c" type:"path" help:"Path to YAML config file (defaults to ./config.yaml or ~/.config/copilot/config.yaml)"`
	Corpus   string `type:"path" help:"Corpus directory, overrides corpus.dir"`
	LogLevel string `name:"log-level" help:"Log level: debug, info, warn or error"`
	LogFile  string `name:"log-file" type:"path" help:"Append logs to this file instead of stderr"`

	Ask   AskCmd   `cmd:"" help:"Open the interactive copilot"`
	Query QueryCmd `cmd:"" help:"Answer a single question and exit"`
	Stats StatsCmd `cmd:"" help:"Show what the index contains"`
}

// AskCmd is the "ask" subcommand.
type AskCmd struct {
	Watch bool `short:"w" help:"Rescan the corpus when new files appear"`
}

// QueryCmd is the "query" subcommand.
type QueryCmd struct {
	Text string `arg:"" help:"Question to look up"`
	TopK int    `name:"top-k" short:"k" help:"Maximum number of results (defaults to rag.top_k)"`
	JSON bool   `help:"Print results as JSON"`
}

// StatsCmd is the "stats" subcommand.
type StatsCmd struct {
	JSON bool `help:"Print stats as JSON"`
}
