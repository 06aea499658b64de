package app

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"tact/internal/config"
	"tact/internal/entries"
	"tact/internal/httpx"
	"tact/internal/rag"
	"tact/internal/storage/sqlite"
)

// queryCacheSize bounds the in-memory cache of query embeddings.
const queryCacheSize = 512

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Fatalf("tact: %v", err)
	}
}

type cli struct {
	configPath string
}

func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "tact",
		Short:         "Turn free-text work notes into billable time entries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $TACT_CONFIG_PATH or tact.yaml)")

	root.AddCommand(
		c.serveCmd(),
		c.entryCmd(),
		c.contextCmd(),
		c.catalogCmd(),
		c.configCmd(),
		c.exportCmd(),
	)
	return root
}

// env is everything a command needs once config is loaded.
type env struct {
	cfg     config.Config
	store   *sqlite.Store
	engine  *rag.Engine
	entries *entries.Service
}

func (c *cli) open() (*env, error) {
	cfg, err := config.Load(config.Path(c.configPath))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	engine, err := newEngine(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &env{
		cfg:     cfg,
		store:   store,
		engine:  engine,
		entries: entries.NewService(store, engine),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		log.Printf("close database: %v", err)
	}
}

func newEngine(cfg config.Config) (*rag.Engine, error) {
	embedder, err := rag.NewCachingEmbedder(
		rag.NewOllamaEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel, httpx.ExternalHTTPClient()),
		queryCacheSize,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return rag.NewEngine(embedder), nil
}

// withEnv opens the environment for the duration of one command.
func (c *cli) withEnv(run func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := c.open()
		if err != nil {
			return err
		}
		defer e.Close()
		return run(cmd, args, e)
	}
}
