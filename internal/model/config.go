package model

import (
	"runtime"
	"time"
)

// Config is the complete hopwalk configuration.
// Values are loaded from defaults, then the config file, then HOPWALK_* env vars, then flags.
type Config struct {
	Graph        GraphConfig        `yaml:"graph" mapstructure:"graph"`
	Sampler      SamplerConfig      `yaml:"sampler" mapstructure:"sampler"`
	Batch        BatchConfig        `yaml:"batch" mapstructure:"batch"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}

// GraphConfig selects and configures the graph store backend
type GraphConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // memory, sqlite, neo4j

	// memory backend
	TriplesFile string `yaml:"triples_file,omitempty" mapstructure:"triples_file"` // subject\tpredicate\tobject per line
	LabelsFile  string `yaml:"labels_file,omitempty" mapstructure:"labels_file"`   // id\tlabel[\tdescription] per line

	// sqlite backend
	Path string `yaml:"path,omitempty" mapstructure:"path"`

	// neo4j backend
	URI            string `yaml:"uri,omitempty" mapstructure:"uri"`
	Database       string `yaml:"database,omitempty" mapstructure:"database"`
	Username       string `yaml:"username,omitempty" mapstructure:"username"`
	Password       string `yaml:"-" mapstructure:"password"` // Never written to config files
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
}

// SamplerConfig controls a single walk
type SamplerConfig struct {
	Hops               int      `yaml:"hops" mapstructure:"hops"`
	Damping            float64  `yaml:"damping" mapstructure:"damping"`                         // c in w = in_degree^-c
	ExcludedProperties []string `yaml:"excluded_properties" mapstructure:"excluded_properties"` // Never sampled
	ExcludedItems      []string `yaml:"excluded_items" mapstructure:"excluded_items"`           // Never sampled
	DegreePolicy       string   `yaml:"degree_policy" mapstructure:"degree_policy"`             // floor, exclude, reject
	DeadEnd            string   `yaml:"dead_end" mapstructure:"dead_end"`                       // partial, restart
	MaxRestarts        int      `yaml:"max_restarts" mapstructure:"max_restarts"`               // Only used by dead_end=restart
	MarkAllCandidates  bool     `yaml:"mark_all_candidates" mapstructure:"mark_all_candidates"` // Over-exclusion heuristic
	AmbiguityFilter    bool     `yaml:"ambiguity_filter" mapstructure:"ambiguity_filter"`       // Drop multi-target properties
	Seed               int64    `yaml:"seed" mapstructure:"seed"`                               // 0 = time-based
}

// BatchConfig controls the concurrent batch driver
type BatchConfig struct {
	Samples     int           `yaml:"samples" mapstructure:"samples"`           // Successful samples to collect
	Workers     int           `yaml:"workers" mapstructure:"workers"`           // Concurrent walks
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"` // Walk budget (0 = 20x samples)
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`           // Wall-clock budget for the whole batch
}

// CacheConfig controls caching of graph store lookups
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskDir   string        `yaml:"disk_dir,omitempty" mapstructure:"disk_dir"` // Empty = memory only
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// LLMConfig configures the question generator
type LLMConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"` // openai, azure, anthropic, ollama, "" (disabled)
	Model      string `yaml:"model" mapstructure:"model"`
	JudgeModel string `yaml:"judge_model,omitempty" mapstructure:"judge_model"` // verify --llm; empty = Model
	APIKey     string `yaml:"-" mapstructure:"api_key"` // Never written to config files
	BaseURL    string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIVersion string `yaml:"api_version,omitempty" mapstructure:"api_version"` // Azure only
	Timeout    int    `yaml:"timeout" mapstructure:"timeout"`                   // seconds
	MaxTokens  int    `yaml:"max_tokens" mapstructure:"max_tokens"`

	// Proxy settings (empty = HTTP_PROXY / HTTPS_PROXY / NO_PROXY from the environment)
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RateLimitingConfig throttles calls to the LLM provider
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`

	// ProviderRates overrides RequestsPerSecond per provider name (e.g. ollama: 0.5)
	ProviderRates map[string]float64 `yaml:"provider_rates,omitempty" mapstructure:"provider_rates"`
}

// OutputConfig controls where samples are written
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"` // csv, jsonl, prompts
	Labels bool   `yaml:"labels" mapstructure:"labels"` // Write labels instead of ids in CSV
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text, json
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"` // Empty = disabled
}

// DefaultExcludedProperties are relations too vague to phrase as a hop
// (instance of, described by source, subclass of).
var DefaultExcludedProperties = []string{"P31", "P1343", "P279"}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			Backend:        "sqlite",
			Path:           "knowledge_graph.db",
			MaxConnections: 10,
		},
		Sampler: SamplerConfig{
			Hops:               3,
			Damping:            0.3,
			ExcludedProperties: append([]string(nil), DefaultExcludedProperties...),
			DegreePolicy:       "floor",
			DeadEnd:            "partial",
			MaxRestarts:        10,
			MarkAllCandidates:  true,
			AmbiguityFilter:    true,
		},
		Batch: BatchConfig{
			Samples: 10,
			Workers: runtime.NumCPU(),
			Timeout: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		LLM: LLMConfig{
			Timeout:   30,
			MaxTokens: 200,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         5,
		},
		Output: OutputConfig{
			Format: "csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
