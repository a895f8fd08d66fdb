package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid config")

// CorpusConfig points at the directory tree backing the retrieval engine.
type CorpusConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
	PDF        *bool    `yaml:"pdf,omitempty"`
}

// PDFEnabled reports whether PDF extraction is switched on. It defaults to true.
func (c CorpusConfig) PDFEnabled() bool {
	return c.PDF == nil || *c.PDF
}

// RAGConfig holds the retrieval parameters. Values are fixed once an engine is built.
type RAGConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	MinChunkLength      int     `yaml:"min_chunk_length"`
	NgramRange          [2]int  `yaml:"ngram_range,flow"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
}

// Validate checks that every parameter is usable by the chunker and vectorizer.
// An overlap at or beyond the chunk size is accepted; the chunker clamps its step.
func (c RAGConfig) Validate() error {
	switch {
	case c.ChunkSize < 1:
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	case c.ChunkOverlap < 0:
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidConfig, c.ChunkOverlap)
	case c.MinChunkLength < 0:
		return fmt.Errorf("%w: min_chunk_length must not be negative, got %d", ErrInvalidConfig, c.MinChunkLength)
	case c.NgramRange[0] < 1 || c.NgramRange[1] < c.NgramRange[0]:
		return fmt.Errorf("%w: ngram_range must satisfy 1 <= low <= high, got %v", ErrInvalidConfig, c.NgramRange)
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold >= 1:
		return fmt.Errorf("%w: similarity_threshold must be in [0, 1), got %g", ErrInvalidConfig, c.SimilarityThreshold)
	case c.TopK < 1:
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, c.TopK)
	}
	return nil
}

// WatcherConfig configures the optional corpus watcher.
type WatcherConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// LogConfig selects the log level and handler format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus  CorpusConfig  `yaml:"corpus"`
	RAG     RAGConfig     `yaml:"rag"`
	Watcher WatcherConfig `yaml:"watcher"`
	Log     LogConfig     `yaml:"log"`
}

// Validate checks the whole configuration.
func (c *AppConfig) Validate() error {
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	if c.Watcher.DebounceMS < 0 {
		return fmt.Errorf("%w: watcher.debounce_ms must not be negative", ErrInvalidConfig)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	// Keys missing from the file keep their default values.
	cfg := *Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/copilot/config.yaml.
// If neither exists, it writes defaults to ~/.config/copilot/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides selected settings from COPILOT_* environment variables.
func ApplyEnv(cfg *AppConfig) error {
	if v := os.Getenv("COPILOT_CORPUS_DIR"); v != "" {
		cfg.Corpus.Dir = v
	}
	if v := os.Getenv("COPILOT_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: COPILOT_TOP_K: %v", ErrInvalidConfig, err)
		}
		cfg.RAG.TopK = n
	}
	if v := os.Getenv("COPILOT_SIMILARITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: COPILOT_SIMILARITY_THRESHOLD: %v", ErrInvalidConfig, err)
		}
		cfg.RAG.SimilarityThreshold = f
	}
	if v := os.Getenv("COPILOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return cfg.Validate()
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Corpus: CorpusConfig{
			Dir:        filepath.Join("assets", "corpus"),
			Extensions: []string{".txt", ".md", ".pdf"},
		},
		RAG:     DefaultRAG(),
		Watcher: WatcherConfig{DebounceMS: 500},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultRAG returns the default retrieval parameters.
func DefaultRAG() RAGConfig {
	return RAGConfig{
		ChunkSize:           200,
		ChunkOverlap:        40,
		MinChunkLength:      10,
		NgramRange:          [2]int{2, 4},
		SimilarityThreshold: 0.02,
		TopK:                2,
	}
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "copilot", "config.yaml"), nil
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Corpus.Dir == "" {
		cfg.Corpus.Dir = def.Corpus.Dir
	}
	if len(cfg.Corpus.Extensions) == 0 {
		cfg.Corpus.Extensions = def.Corpus.Extensions
	}
	for i, ext := range cfg.Corpus.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Corpus.Extensions[i] = ext
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}
