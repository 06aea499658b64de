package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "tact.yaml"

	defaultExternalHTTPTimeout        = 90 * time.Second
	defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)
)

type Config struct {
	DBPath string `yaml:"db_path"`

	LLMProvider              string `yaml:"llm_provider"`
	OllamaURL                string `yaml:"ollama_url"`
	OllamaModel              string `yaml:"ollama_model"`
	OllamaTimeoutSeconds     int    `yaml:"ollama_timeout_seconds"`
	OllamaPullTimeoutSeconds int    `yaml:"ollama_pull_timeout_seconds"`
	AnthropicAPIKey          string `yaml:"anthropic_api_key"`
	AnthropicModel           string `yaml:"anthropic_model"`

	EmbeddingURL   string `yaml:"embedding_url"`
	EmbeddingModel string `yaml:"embedding_model"`

	ParserIntervalSeconds int     `yaml:"parser_interval_seconds"`
	ParserBatchSize       int     `yaml:"parser_batch_size"`
	ConfidenceThreshold   float64 `yaml:"confidence_threshold"`
	DurationRounding      string  `yaml:"duration_rounding"`

	RAGTopK          int     `yaml:"rag_top_k"`
	RAGMinSimilarity float64 `yaml:"rag_min_similarity"`

	EmbeddingBackfillSchedule string `yaml:"embedding_backfill_schedule"`

	SlackBotToken        string `yaml:"slack_bot_token"`
	SlackReviewChannelID string `yaml:"slack_review_channel_id"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	RoundingIncrement int `yaml:"-"` // computed from DurationRounding
}

// Path resolves the config file location: the explicit flag value wins,
// then TACT_CONFIG_PATH, then tact.yaml.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("TACT_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return DefaultConfigPath
}

// Load reads the YAML file at path (a missing file is fine), applies TACT_*
// environment overrides and defaults, then validates.
func Load(path string) (Config, error) {
	var cfg Config
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		log.Printf("config loaded path=%s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	var errs []error
	envOverride(&cfg.DBPath, "TACT_DB_PATH")
	envOverride(&cfg.LLMProvider, "TACT_LLM_PROVIDER")
	envOverride(&cfg.OllamaURL, "TACT_OLLAMA_URL")
	envOverride(&cfg.OllamaModel, "TACT_OLLAMA_MODEL")
	errs = append(errs, envOverrideInt(&cfg.OllamaTimeoutSeconds, "TACT_OLLAMA_TIMEOUT"))
	errs = append(errs, envOverrideInt(&cfg.OllamaPullTimeoutSeconds, "TACT_OLLAMA_PULL_TIMEOUT"))
	envOverride(&cfg.AnthropicAPIKey, "TACT_ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicModel, "TACT_ANTHROPIC_MODEL")
	envOverride(&cfg.EmbeddingURL, "TACT_EMBEDDING_URL")
	envOverride(&cfg.EmbeddingModel, "TACT_EMBEDDING_MODEL")
	errs = append(errs, envOverrideInt(&cfg.ParserIntervalSeconds, "TACT_PARSER_INTERVAL"))
	errs = append(errs, envOverrideInt(&cfg.ParserBatchSize, "TACT_PARSER_BATCH_SIZE"))
	errs = append(errs, envOverrideFloat(&cfg.ConfidenceThreshold, "TACT_CONFIDENCE_THRESHOLD"))
	envOverride(&cfg.DurationRounding, "TACT_DURATION_ROUNDING")
	errs = append(errs, envOverrideInt(&cfg.RAGTopK, "TACT_RAG_TOP_K"))
	errs = append(errs, envOverrideFloat(&cfg.RAGMinSimilarity, "TACT_RAG_MIN_SIMILARITY"))
	envOverrideAllowEmpty(&cfg.EmbeddingBackfillSchedule, "TACT_EMBEDDING_BACKFILL_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "TACT_SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackReviewChannelID, "TACT_SLACK_REVIEW_CHANNEL")
	errs = append(errs, envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "TACT_EXTERNAL_HTTP_TIMEOUT"))
	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "./tact.db"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "ollama"
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "llama3.2:3b"
	}
	if cfg.OllamaTimeoutSeconds == 0 {
		cfg.OllamaTimeoutSeconds = 180
	}
	if cfg.OllamaPullTimeoutSeconds == 0 {
		cfg.OllamaPullTimeoutSeconds = 1800
	}
	if cfg.AnthropicModel == "" {
		cfg.AnthropicModel = "claude-3-haiku-20240307"
	}
	if cfg.EmbeddingURL == "" {
		cfg.EmbeddingURL = cfg.OllamaURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "all-minilm"
	}
	if cfg.ParserIntervalSeconds == 0 {
		cfg.ParserIntervalSeconds = 10
	}
	if cfg.ParserBatchSize == 0 {
		cfg.ParserBatchSize = 10
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.DurationRounding == "" {
		cfg.DurationRounding = "none"
	}
	if cfg.RAGTopK == 0 {
		cfg.RAGTopK = 5
	}
	if cfg.RAGMinSimilarity == 0 {
		cfg.RAGMinSimilarity = 0.3
	}
	if _, set := os.LookupEnv("TACT_EMBEDDING_BACKFILL_SCHEDULE"); !set && cfg.EmbeddingBackfillSchedule == "" {
		cfg.EmbeddingBackfillSchedule = "@every 10m"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case "ollama":
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		return fmt.Errorf("llm_provider must be 'ollama' or 'anthropic', got '%s'", c.LLMProvider)
	}

	inc, err := ParseRounding(c.DurationRounding)
	if err != nil {
		return err
	}
	c.RoundingIncrement = inc

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence_threshold '%f': must be between 0 and 1", c.ConfidenceThreshold)
	}
	if c.ParserBatchSize < 1 {
		return fmt.Errorf("invalid parser_batch_size '%d': must be >= 1", c.ParserBatchSize)
	}
	if c.ParserIntervalSeconds < 1 {
		return fmt.Errorf("invalid parser_interval_seconds '%d': must be >= 1", c.ParserIntervalSeconds)
	}
	if c.RAGTopK < 1 {
		return fmt.Errorf("invalid rag_top_k '%d': must be >= 1", c.RAGTopK)
	}
	if c.RAGMinSimilarity < -1 || c.RAGMinSimilarity > 1 {
		return fmt.Errorf("invalid rag_min_similarity '%f': must be between -1 and 1", c.RAGMinSimilarity)
	}
	if c.OllamaTimeoutSeconds < 1 || c.OllamaPullTimeoutSeconds < 1 {
		return fmt.Errorf("ollama timeouts must be >= 1 second")
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.EmbeddingBackfillSchedule != "" {
		if _, err := cron.ParseStandard(c.EmbeddingBackfillSchedule); err != nil {
			return fmt.Errorf("invalid embedding_backfill_schedule '%s': %w", c.EmbeddingBackfillSchedule, err)
		}
	}
	return nil
}

// ParseRounding maps the duration_rounding setting to an increment in
// minutes; 0 disables rounding.
func ParseRounding(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return 0, nil
	case "15":
		return 15, nil
	case "30":
		return 30, nil
	}
	return 0, fmt.Errorf("invalid duration_rounding '%s': must be none, 15 or 30", s)
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackReviewChannelID != ""
}

func (c Config) ParserInterval() time.Duration {
	return time.Duration(c.ParserIntervalSeconds) * time.Second
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
