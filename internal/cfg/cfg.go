package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Bus backends selectable at startup.
const (
	BusKafka = "kafka"
	BusRedis = "redis"
	BusMem   = "mem"
)

// LLM providers selectable at startup. Empty means heuristics only.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// Config holds the worker's own configuration on top of the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	Bus           string
	KafkaBrokers  string
	RedisAddr     string
	ConsumerGroup string

	ContextStoreURL string

	LLMProvider  string
	GoogleAPIKey string
	GeminiModel  string
	EmbedModel   string
	ClaudeAPIKey string
	ClaudeModel  string

	SimilarityThreshold float64
	RetrievalTopK       int
	HistorySize         int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 10, "seconds to wait for the in-flight event to finish before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "outcomes API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for the outcomes API (empty = unauthenticated)")
	fs.StringVar(&c.Bus, "bus", BusKafka, "event bus backend: kafka, redis, or mem")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "localhost:9092", "comma-separated Kafka bootstrap brokers")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "Redis address for the streams bus")
	fs.StringVar(&c.ConsumerGroup, "consumer-group", "ai-worker", "broker consumer group name")
	fs.StringVar(&c.ContextStoreURL, "context-store-url", "http://localhost:3001", "base URL of the context store tool service")
	fs.StringVar(&c.LLMProvider, "llm-provider", "", "generative model provider: gemini, claude, or empty for heuristics only")
	fs.StringVar(&c.GoogleAPIKey, "google-api-key", "", "API key for the Gemini generation and embedding models")
	fs.StringVar(&c.GeminiModel, "gemini-model", "gemini-2.5-flash", "Gemini generation model")
	fs.StringVar(&c.EmbedModel, "embed-model", "gemini-embedding-001", "Gemini embedding model")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.Float64Var(&c.SimilarityThreshold, "similarity-threshold", 0.3, "minimum vector similarity for a retrieved incident to count (0..1, exclusive match)")
	fs.IntVar(&c.RetrievalTopK, "retrieval-top-k", 3, "similar incidents requested per triage (1..20)")
	fs.IntVar(&c.HistorySize, "history-size", 1000, "event outcomes retained for the outcomes API (1..100000)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for emergency/failure notifications")
}

// KafkaBrokerList splits the comma-separated broker flag.
func (c *Config) KafkaBrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.Bus {
	case BusKafka:
		if len(c.KafkaBrokerList()) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka bus"))
		}
	case BusRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis bus"))
		}
	case BusMem:
		// dev/testing only, nothing to check
	default:
		errs = append(errs, fmt.Errorf("invalid BUS %q (must be kafka, redis, or mem)", c.Bus))
	}

	if c.ConsumerGroup == "" {
		errs = append(errs, errors.New("CONSUMER_GROUP is required"))
	}

	if c.ContextStoreURL == "" {
		errs = append(errs, errors.New("CONTEXT_STORE_URL is required"))
	}

	// Provider credentials: heuristics-only operation is supported, but a
	// configured provider must come with its key.
	switch c.LLMProvider {
	case "":
	case ProviderGemini:
		if c.GoogleAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required for the gemini provider"))
		}
		if c.GeminiModel == "" {
			errs = append(errs, errors.New("GEMINI_MODEL is required for the gemini provider"))
		}
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude provider"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the claude provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be gemini, claude, or empty)", c.LLMProvider))
	}

	// Embeddings (retrieval + memory writes) always go through Gemini.
	if c.EmbedModel == "" {
		errs = append(errs, errors.New("EMBED_MODEL is required"))
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("invalid SIMILARITY_THRESHOLD %v (must be in [0, 1))", c.SimilarityThreshold))
	}
	if c.RetrievalTopK <= 0 || c.RetrievalTopK > 20 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TOP_K %d (must be 1..20)", c.RetrievalTopK))
	}
	if c.HistorySize <= 0 || c.HistorySize > 100000 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_SIZE %d (must be 1..100000)", c.HistorySize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
