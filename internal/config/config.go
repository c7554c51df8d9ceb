// Package config loads and validates application configuration from a YAML
// file merged over defaults, with ${ENV_VAR} expansion for secrets.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// AdapterConfig configures one named adapter. Type selects the shape: "cli"
// adapters run a local command with {model}/{prompt} placeholders, "http"
// adapters speak an OpenAI-compatible chat completion API.
type AdapterConfig struct {
	Type              string   `yaml:"type"`
	Command           string   `yaml:"command,omitempty"`
	Args              []string `yaml:"args,omitempty"`
	BaseURL           string   `yaml:"base_url,omitempty"`
	APIKey            string   `yaml:"api_key,omitempty"`
	TimeoutSeconds    int      `yaml:"timeout,omitempty"`
	MaxRetries        int      `yaml:"max_retries,omitempty"`
	MaxPromptChars    int      `yaml:"max_prompt_chars,omitempty"`
	RecommendedModels []string `yaml:"recommended_models,omitempty"`
}

// Timeout returns the adapter timeout as a duration.
func (a AdapterConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// DefaultsConfig holds per-request defaults.
type DefaultsConfig struct {
	Mode                   string `yaml:"mode"`
	Rounds                 int    `yaml:"rounds"`
	MaxRounds              int    `yaml:"max_rounds"`
	TimeoutPerRoundSeconds int    `yaml:"timeout_per_round"`
}

// StorageConfig holds filesystem paths.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	TranscriptsDir string `yaml:"transcripts_dir"`
}

// ConvergenceDetectionConfig mirrors the semantic convergence thresholds.
type ConvergenceDetectionConfig struct {
	Enabled                     bool    `yaml:"enabled"`
	SemanticSimilarityThreshold float64 `yaml:"semantic_similarity_threshold"`
	DivergenceThreshold         float64 `yaml:"divergence_threshold"`
	MinRoundsBeforeCheck        int     `yaml:"min_rounds_before_check"`
	ConsecutiveStableRounds     int     `yaml:"consecutive_stable_rounds"`
}

// EarlyStoppingConfig controls model-driven termination.
type EarlyStoppingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Threshold        float64 `yaml:"threshold"`
	RespectMinRounds bool    `yaml:"respect_min_rounds"`
}

// TierBoundaries are the retrieval tier cutoffs.
type TierBoundaries struct {
	Strong   float64 `yaml:"strong"`
	Moderate float64 `yaml:"moderate"`
}

// DecisionGraphConfig controls the decision graph memory.
type DecisionGraphConfig struct {
	Enabled bool `yaml:"enabled"`
	// SimilarityThreshold is the retrieval noise floor. Legacy key name.
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	ContextTokenBudget  int            `yaml:"context_token_budget"`
	TierBoundaries      TierBoundaries `yaml:"tier_boundaries"`
	QueueCapacity       int            `yaml:"queue_capacity"`
}

// CacheConfig sizes the retrieval caches.
type CacheConfig struct {
	QueryCacheSize     int `yaml:"query_cache_size"`
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`
	QueryTTLSeconds    int `yaml:"query_ttl_seconds"`
}

// SimilarityConfig selects the text-similarity backend.
type SimilarityConfig struct {
	// Backend is "auto", "embedding", "tfidf" or "tokenset".
	Backend     string `yaml:"backend"`
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
}

// ToolsConfig bounds evidence tool execution.
type ToolsConfig struct {
	TimeoutSeconds   int `yaml:"timeout"`
	MaxConcurrent    int `yaml:"max_concurrent"`
	PreambleCapBytes int `yaml:"preamble_cap_bytes"`
}

// TransportConfig shapes tool responses.
type TransportConfig struct {
	MaxRoundsInResponse int `yaml:"max_rounds_in_response"`
}

// TelemetryConfig configures the OTLP exporter. An empty endpoint disables
// export entirely.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Config is the root configuration.
type Config struct {
	Version              string                     `yaml:"version"`
	LogLevel             string                     `yaml:"log_level"`
	Adapters             map[string]AdapterConfig   `yaml:"adapters"`
	Defaults             DefaultsConfig             `yaml:"defaults"`
	Storage              StorageConfig              `yaml:"storage"`
	ConvergenceDetection ConvergenceDetectionConfig `yaml:"convergence_detection"`
	EarlyStopping        EarlyStoppingConfig        `yaml:"early_stopping"`
	DecisionGraph        DecisionGraphConfig        `yaml:"decision_graph"`
	Cache                CacheConfig                `yaml:"cache"`
	Similarity           SimilarityConfig           `yaml:"similarity"`
	Tools                ToolsConfig                `yaml:"tools"`
	Transport            TransportConfig            `yaml:"transport"`
	Telemetry            TelemetryConfig            `yaml:"telemetry"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Version:  "1.0",
		LogLevel: "info",
		Defaults: DefaultsConfig{
			Mode:                   "quick",
			Rounds:                 2,
			MaxRounds:              5,
			TimeoutPerRoundSeconds: 300,
		},
		Storage: StorageConfig{
			DatabasePath:   "counsel.db",
			TranscriptsDir: "transcripts",
		},
		ConvergenceDetection: ConvergenceDetectionConfig{
			Enabled:                     true,
			SemanticSimilarityThreshold: 0.85,
			DivergenceThreshold:         0.40,
			MinRoundsBeforeCheck:        1,
			ConsecutiveStableRounds:     2,
		},
		EarlyStopping: EarlyStoppingConfig{
			Enabled:          true,
			Threshold:        0.66,
			RespectMinRounds: true,
		},
		DecisionGraph: DecisionGraphConfig{
			Enabled:             true,
			SimilarityThreshold: 0.40,
			ContextTokenBudget:  1500,
			TierBoundaries:      TierBoundaries{Strong: 0.75, Moderate: 0.60},
			QueueCapacity:       1000,
		},
		Cache: CacheConfig{
			QueryCacheSize:     200,
			EmbeddingCacheSize: 500,
			QueryTTLSeconds:    300,
		},
		Similarity: SimilarityConfig{
			Backend:     "auto",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "nomic-embed-text",
		},
		Tools: ToolsConfig{
			TimeoutSeconds:   10,
			MaxConcurrent:    4,
			PreambleCapBytes: 4 * 1024,
		},
		Transport: TransportConfig{
			MaxRoundsInResponse: 3,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: "counsel",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.expandEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv resolves ${VAR} references in adapter secrets and endpoints.
// A reference to an unset variable is an error; secrets must never silently
// collapse to empty strings.
func (c *Config) expandEnv() error {
	for name, a := range c.Adapters {
		var err error
		if a.APIKey, err = expandOne(a.APIKey); err != nil {
			return fmt.Errorf("config: adapter %s api_key: %w", name, err)
		}
		if a.BaseURL, err = expandOne(a.BaseURL); err != nil {
			return fmt.Errorf("config: adapter %s base_url: %w", name, err)
		}
		c.Adapters[name] = a
	}
	return nil
}

func expandOne(s string) (string, error) {
	var missing string
	out := envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("environment variable %s is not set", missing)
	}
	return out, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	for name, a := range c.Adapters {
		switch a.Type {
		case "cli":
			if a.Command == "" {
				return fmt.Errorf("config: adapter %s: cli adapters require a command", name)
			}
		case "http":
			if a.BaseURL == "" {
				return fmt.Errorf("config: adapter %s: http adapters require a base_url", name)
			}
		default:
			return fmt.Errorf("config: adapter %s: unknown type %q", name, a.Type)
		}
	}

	if c.Defaults.Rounds < 1 {
		return fmt.Errorf("config: defaults.rounds must be >= 1")
	}
	if c.Defaults.MaxRounds < c.Defaults.Rounds {
		return fmt.Errorf("config: defaults.max_rounds must be >= defaults.rounds")
	}
	if t := c.ConvergenceDetection.SemanticSimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: convergence_detection.semantic_similarity_threshold must be in (0,1]")
	}
	if t := c.ConvergenceDetection.DivergenceThreshold; t < 0 || t >= c.ConvergenceDetection.SemanticSimilarityThreshold {
		return fmt.Errorf("config: convergence_detection.divergence_threshold must be below the semantic threshold")
	}
	if t := c.EarlyStopping.Threshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: early_stopping.threshold must be in (0,1]")
	}
	if b := c.DecisionGraph.TierBoundaries; b.Moderate > b.Strong {
		return fmt.Errorf("config: decision_graph.tier_boundaries.moderate must not exceed strong")
	}
	if c.DecisionGraph.ContextTokenBudget <= 0 {
		return fmt.Errorf("config: decision_graph.context_token_budget must be positive")
	}
	if c.Transport.MaxRoundsInResponse < 1 {
		return fmt.Errorf("config: transport.max_rounds_in_response must be >= 1")
	}

	switch c.Similarity.Backend {
	case "auto", "embedding", "tfidf", "tokenset":
	default:
		return fmt.Errorf("config: similarity.backend must be auto, embedding, tfidf or tokenset")
	}
	return nil
}
