package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tact/internal/integrations/llm"
	slackbot "tact/internal/integrations/slack"
	"tact/internal/parser"
	"tact/internal/worker"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the parser worker and embedding backfill until interrupted",
		Args:  cobra.NoArgs,
		RunE:  c.withEnv(runServe),
	}
}

func runServe(cmd *cobra.Command, args []string, e *env) error {
	cfg := e.cfg
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("generation provider: %w", err)
	}
	log.Printf("config loaded provider=%s model=%s db=%s interval=%s batch_size=%d threshold=%.2f rounding=%s top_k=%d min_similarity=%.2f",
		provider.Name(), provider.Model(), cfg.DBPath, cfg.ParserInterval(), cfg.ParserBatchSize,
		cfg.ConfidenceThreshold, cfg.DurationRounding, cfg.RAGTopK, cfg.RAGMinSimilarity)

	p := parser.New(provider, e.engine, parser.Options{
		TopK:              cfg.RAGTopK,
		MinSimilarity:     cfg.RAGMinSimilarity,
		DefaultThreshold:  cfg.ConfidenceThreshold,
		RoundingIncrement: cfg.RoundingIncrement,
	})

	var notifier worker.Notifier
	if cfg.SlackConfigured() {
		notifier = slackbot.NewReviewNotifier(cfg.SlackBotToken, cfg.SlackReviewChannelID)
		log.Printf("slack review notifications enabled channel=%s", cfg.SlackReviewChannelID)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.StartEmbeddingBackfill(ctx, cfg.EmbeddingBackfillSchedule, e.store, e.engine); err != nil {
		return err
	}
	worker.New(e.store, p, notifier, cfg.ParserInterval(), cfg.ParserBatchSize).Run(ctx)
	return nil
}
