package main

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/engramlabs/engram/engine"
	"github.com/engramlabs/engram/logging"
	"github.com/engramlabs/engram/memory"
	"github.com/engramlabs/engram/memory/cache"
	"github.com/engramlabs/engram/memory/index"
	"github.com/engramlabs/engram/memory/llm"
	"github.com/engramlabs/engram/memory/store"
)

// config aggregates flag, environment and YAML file configuration.
// Precedence: flags and environment over file over defaults.
type config struct {
	ConfigPath string
	LogLevel   string

	Storage struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Graph   string `yaml:"graph"`
	} `yaml:"storage"`

	Embedding struct {
		Provider      string `yaml:"provider"`
		Dimension     int    `yaml:"dimension"`
		ModelPath     string `yaml:"model_path"`
		TokenizerPath string `yaml:"tokenizer_path"`
		LibraryPath   string `yaml:"library_path"`
	} `yaml:"embedding"`

	LLM struct {
		APIKey string `yaml:"-"`
		Model  string `yaml:"model"`
	} `yaml:"llm"`

	Tuning struct {
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		ContentCeiling      int     `yaml:"content_ceiling"`
		PromotionThreshold  int     `yaml:"promotion_threshold"`
		CacheSize           int     `yaml:"cache_size"`
	} `yaml:"tuning"`
}

func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML configuration file",
			Sources:     cli.EnvVars("ENGRAM_CONFIG"),
			Destination: &cfg.ConfigPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ENGRAM_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
		},
		&cli.StringFlag{
			Name:        "db",
			Usage:       "Path to the SQLite triple store",
			Sources:     cli.EnvVars("ENGRAM_DB"),
			Destination: &cfg.Storage.Path,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key for concept extraction and generation",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.LLM.APIKey,
		},
	}
}

// load merges the YAML file (when present) under the already-parsed flags,
// then applies defaults.
func (cfg *config) load() error {
	if cfg.ConfigPath != "" {
		data, err := os.ReadFile(cfg.ConfigPath)
		if err != nil {
			return goerr.Wrap(memory.ErrConfiguration, "read configuration file",
				goerr.V("path", cfg.ConfigPath))
		}
		var file config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return goerr.Wrap(memory.ErrConfiguration, "parse configuration file",
				goerr.V("path", cfg.ConfigPath), goerr.V("cause", err.Error()))
		}
		cfg.merge(&file)
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "engram.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	return nil
}

// merge fills empty fields from the file configuration.
func (cfg *config) merge(file *config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = file.Storage.Backend
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = file.Storage.Path
	}
	if cfg.Storage.Graph == "" {
		cfg.Storage.Graph = file.Storage.Graph
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = file.Embedding.Provider
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = file.Embedding.Dimension
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = file.Embedding.ModelPath
	}
	if cfg.Embedding.TokenizerPath == "" {
		cfg.Embedding.TokenizerPath = file.Embedding.TokenizerPath
	}
	if cfg.Embedding.LibraryPath == "" {
		cfg.Embedding.LibraryPath = file.Embedding.LibraryPath
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = file.LLM.Model
	}
	if cfg.Tuning.SimilarityThreshold == 0 {
		cfg.Tuning.SimilarityThreshold = file.Tuning.SimilarityThreshold
	}
	if cfg.Tuning.ContentCeiling == 0 {
		cfg.Tuning.ContentCeiling = file.Tuning.ContentCeiling
	}
	if cfg.Tuning.PromotionThreshold == 0 {
		cfg.Tuning.PromotionThreshold = file.Tuning.PromotionThreshold
	}
	if cfg.Tuning.CacheSize == 0 {
		cfg.Tuning.CacheSize = file.Tuning.CacheSize
	}
}

// buildEngine wires transport, store, index, providers and manager into a
// ready engine. The returned closer flushes memory and releases resources.
func buildEngine(ctx context.Context, cfg *config) (*engine.Engine, func(context.Context), error) {
	logger := logging.From(ctx)

	var transport store.Transport
	switch cfg.Storage.Backend {
	case "sqlite":
		t, err := store.NewSQLiteTransport(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		transport = t
	default:
		return nil, nil, goerr.Wrap(memory.ErrConfiguration, "unsupported storage backend",
			goerr.V("backend", cfg.Storage.Backend), goerr.V("supported", []string{"sqlite"}))
	}

	st, err := store.New(transport, store.Config{
		Graph:     cfg.Storage.Graph,
		Dimension: cfg.Embedding.Dimension,
	}, store.WithLogger(logger))
	if err != nil {
		transport.Close()
		return nil, nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	memCfg := &memory.Config{
		Dimension:           cfg.Embedding.Dimension,
		SimilarityThreshold: cfg.Tuning.SimilarityThreshold,
		ContentCeiling:      cfg.Tuning.ContentCeiling,
		PromotionThreshold:  cfg.Tuning.PromotionThreshold,
		CacheSize:           cfg.Tuning.CacheSize,
	}

	idx, err := index.New(memCfg.WithDefaults(), st, index.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	embCache, err := cache.New(memCfg.WithDefaults().CacheSize, time.Hour)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	opts := []memory.ManagerOption{
		memory.WithDocumentSink(st),
		memory.WithEmbeddingCache(embCache),
		memory.WithManagerLogger(logger),
	}
	if cfg.LLM.APIKey != "" {
		var llmOpts []llm.Option
		if cfg.LLM.Model != "" {
			llmOpts = append(llmOpts, llm.WithModel(cfg.LLM.Model))
		}
		client := llm.New(cfg.LLM.APIKey, llmOpts...)
		opts = append(opts, memory.WithConceptExtractor(client), memory.WithResponseGenerator(client))
	}

	manager, err := memory.NewManager(embedder, idx, memCfg, opts...)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	eng, err := engine.New(manager, engine.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	closer := func(ctx context.Context) {
		if err := eng.Close(ctx); err != nil {
			logger.Warn("engine shutdown reported an error", "error", err)
		}
		if err := st.Close(); err != nil {
			logger.Warn("store close reported an error", "error", err)
		}
	}
	return eng, closer, nil
}
