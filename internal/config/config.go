// Package config loads the immutable option bundle MemNet components are
// constructed with. There is no package-level singleton: Load returns a
// value, and every component that needs configuration receives it through
// its constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// VectorStoreConfig configures the backing vector store backend.
type VectorStoreConfig struct {
	Provider       string `yaml:"provider" json:"provider"` // "memory", "qdrant", "postgres", "redis"
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	CollectionName string `yaml:"collectionName" json:"collectionName"`
	APIKey         string `yaml:"apiKey" json:"apiKey"`
	Metric         string `yaml:"metric" json:"metric"` // defaults to cosine
}

// LLMConfig configures the LLM provider used for extract/merge/rerank.
type LLMConfig struct {
	Provider string `yaml:"provider" json:"provider"` // "openai", "anthropic"
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"apiKey" json:"apiKey"`
}

// EmbedderConfig configures the embedding backend.
type EmbedderConfig struct {
	Provider string `yaml:"provider" json:"provider"` // "openai", "deterministic"
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"apiKey" json:"apiKey"`
}

// ObsConfig configures the OpenTelemetry exporters and zerolog sink.
type ObsConfig struct {
	OTLP           string `yaml:"otlp" json:"otlp"`
	ServiceName    string `yaml:"serviceName" json:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion" json:"serviceVersion"`
	Environment    string `yaml:"environment" json:"environment"`
	LogPath        string `yaml:"logPath" json:"logPath"`
	LogLevel       string `yaml:"logLevel" json:"logLevel"`
}

// Options is the full, immutable configuration surface recognized by
// MemNet (spec §6.3). It is assembled once at process start.
type Options struct {
	VectorStore        VectorStoreConfig `yaml:"vectorStore" json:"vectorStore"`
	LLM                LLMConfig         `yaml:"llm" json:"llm"`
	Embedder           EmbedderConfig    `yaml:"embedder" json:"embedder"`
	DuplicateThreshold float64           `yaml:"duplicateThreshold" json:"duplicateThreshold"`
	EnableReranking    bool              `yaml:"enableReranking" json:"enableReranking"`
	HistoryLimit       int               `yaml:"historyLimit" json:"historyLimit"`
	Observability      ObsConfig         `yaml:"observability" json:"observability"`
}

// document is the on-disk YAML shape: everything lives under the
// top-level "MemNet" key, per spec §6.3.
type document struct {
	MemNet Options `yaml:"MemNet"`
}

// defaults applies the documented fallback values for options a caller
// left unset. DuplicateThreshold is deliberately NOT defaulted here: §9's
// open question notes the spec shows two different defaults (0.6 vs 0.9)
// across entry points, so callers must set it explicitly. Load only fills
// in the remaining, unambiguous defaults.
func defaults(o Options) Options {
	if o.VectorStore.CollectionName == "" {
		o.VectorStore.CollectionName = "memnet_collection"
	}
	if o.VectorStore.Provider == "" {
		o.VectorStore.Provider = "memory"
	}
	if o.VectorStore.Metric == "" {
		o.VectorStore.Metric = "cosine"
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = 10
	}
	if o.Observability.ServiceName == "" {
		o.Observability.ServiceName = "memnetd"
	}
	if o.Observability.LogLevel == "" {
		o.Observability.LogLevel = "info"
	}
	return o
}

// Load reads a YAML config file at path (if non-empty) under the "MemNet"
// key, overlays a .env file (if present) and then process environment
// variables, and returns the resulting immutable Options. Env vars take
// precedence over the file, mirroring the teacher's env-first pattern.
func Load(path string) (Options, error) {
	var opts Options

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Options{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			var doc document
			if err := yaml.Unmarshal(b, &doc); err != nil {
				return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			opts = doc.MemNet
		}
	}

	// .env is best-effort; a missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&opts)
	opts = defaults(opts)

	if err := validate(opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func applyEnvOverrides(o *Options) {
	o.VectorStore.Provider = firstNonEmpty(os.Getenv("MEMNET_VECTORSTORE_PROVIDER"), o.VectorStore.Provider)
	o.VectorStore.Endpoint = firstNonEmpty(os.Getenv("MEMNET_VECTORSTORE_ENDPOINT"), o.VectorStore.Endpoint)
	o.VectorStore.CollectionName = firstNonEmpty(os.Getenv("MEMNET_VECTORSTORE_COLLECTION"), o.VectorStore.CollectionName)
	o.VectorStore.APIKey = firstNonEmpty(os.Getenv("MEMNET_VECTORSTORE_API_KEY"), o.VectorStore.APIKey)
	o.VectorStore.Metric = firstNonEmpty(os.Getenv("MEMNET_VECTORSTORE_METRIC"), o.VectorStore.Metric)

	o.LLM.Provider = firstNonEmpty(os.Getenv("MEMNET_LLM_PROVIDER"), o.LLM.Provider)
	o.LLM.Endpoint = firstNonEmpty(os.Getenv("MEMNET_LLM_ENDPOINT"), o.LLM.Endpoint)
	o.LLM.Model = firstNonEmpty(os.Getenv("MEMNET_LLM_MODEL"), o.LLM.Model)
	o.LLM.APIKey = firstNonEmpty(os.Getenv("MEMNET_LLM_API_KEY"), o.LLM.APIKey)

	o.Embedder.Provider = firstNonEmpty(os.Getenv("MEMNET_EMBEDDER_PROVIDER"), o.Embedder.Provider)
	o.Embedder.Endpoint = firstNonEmpty(os.Getenv("MEMNET_EMBEDDER_ENDPOINT"), o.Embedder.Endpoint)
	o.Embedder.Model = firstNonEmpty(os.Getenv("MEMNET_EMBEDDER_MODEL"), o.Embedder.Model)
	o.Embedder.APIKey = firstNonEmpty(os.Getenv("MEMNET_EMBEDDER_API_KEY"), o.Embedder.APIKey)

	if v := strings.TrimSpace(os.Getenv("MEMNET_DUPLICATE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			o.DuplicateThreshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEMNET_ENABLE_RERANKING")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.EnableReranking = b
		}
	}
	if v := parseInt(os.Getenv("MEMNET_HISTORY_LIMIT")); v > 0 {
		o.HistoryLimit = v
	}

	o.Observability.OTLP = firstNonEmpty(os.Getenv("MEMNET_OTLP_ENDPOINT"), o.Observability.OTLP)
	o.Observability.ServiceVersion = firstNonEmpty(os.Getenv("MEMNET_SERVICE_VERSION"), o.Observability.ServiceVersion)
	o.Observability.Environment = firstNonEmpty(os.Getenv("MEMNET_ENVIRONMENT"), o.Observability.Environment)
	o.Observability.LogPath = firstNonEmpty(os.Getenv("MEMNET_LOG_PATH"), o.Observability.LogPath)
	o.Observability.LogLevel = firstNonEmpty(os.Getenv("MEMNET_LOG_LEVEL"), o.Observability.LogLevel)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func validate(o Options) error {
	switch o.VectorStore.Provider {
	case "memory", "qdrant", "postgres", "redis":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported vectorStore.provider %q", o.VectorStore.Provider)}
	}
	if o.VectorStore.Provider != "memory" && o.VectorStore.Endpoint == "" {
		return &ConfigurationError{Reason: "vectorStore.endpoint is required for provider " + o.VectorStore.Provider}
	}
	switch o.LLM.Provider {
	case "openai", "anthropic":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported llm.provider %q", o.LLM.Provider)}
	}
	if o.Embedder.Provider != "openai" && o.Embedder.Provider != "deterministic" {
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported embedder.provider %q", o.Embedder.Provider)}
	}
	return nil
}

// ConfigurationError reports missing endpoints/keys or contradictory
// options discovered while assembling Options (spec §7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "memnet: configuration error: " + e.Reason
}
