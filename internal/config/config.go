// Package config loads and hot-reloads the struggle-detection aggregator's
// configuration: detector thresholds, aggregation weights, cache and batch
// tuning, and rate-limit policy.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// RateLimitRule is a per-endpoint override of the global rate limit.
type RateLimitRule struct {
	Endpoint string `yaml:"endpoint"`
	Requests int    `yaml:"requests"`
	WindowS  int    `yaml:"window_s"`
}

// Config holds every recognised configuration option from the external
// interface contract.
type Config struct {
	// Windows
	WindowMs int64 `yaml:"window_ms"`

	// Thresholds
	RetryAttemptThreshold        int     `yaml:"retry_attempt_threshold"`
	ErrorCountThreshold          int     `yaml:"error_count_threshold"`
	EditFrequencyThresholdPerMin float64 `yaml:"edit_frequency_threshold_per_min"`
	LevenshteinSimilarityThresh  float64 `yaml:"levenshtein_similarity_threshold"`
	MaxLineDistanceForRetry      int     `yaml:"max_line_distance_for_retry"`
	MaxComparisonsPerEdit        int     `yaml:"max_comparisons_per_edit"`
	HesitationThresholdMs        int64   `yaml:"hesitation_threshold_ms"`

	// Buffers
	MaxEventsPerFile int `yaml:"max_events_per_file"`
	MaxErrorsPerFile int `yaml:"max_errors_per_file"`
	MaxSnippetChars  int `yaml:"max_snippet_chars"`

	// Cooldown
	CooldownMs int64 `yaml:"cooldown_ms"`

	// Aggregation weights
	WeightUndoRedo    float64 `yaml:"weight_undo_redo"`
	WeightTimePattern float64 `yaml:"weight_time_pattern"`
	WeightTerminal    float64 `yaml:"weight_terminal"`
	WeightDebug       float64 `yaml:"weight_debug"`
	WeightSemantic    float64 `yaml:"weight_semantic"`
	WeightEditPattern float64 `yaml:"weight_edit_pattern"`
	SemanticEnabled   bool    `yaml:"semantic_enabled"`

	// Trigger
	TriggerThreshold float64 `yaml:"trigger_threshold"`

	// Cache
	CacheEnabled          bool   `yaml:"cache_enabled"`
	CacheTTLSeconds       int    `yaml:"cache_ttl_s"`
	CacheMaxSize          int    `yaml:"cache_max_size"`
	DistributedEnabled    bool   `yaml:"distributed_enabled"`
	DistributedURL        string `yaml:"distributed_url"`
	KeyPrefix             string `yaml:"key_prefix"`
	PoolSize              int    `yaml:"pool_size"`
	SocketTimeoutS        float64 `yaml:"socket_timeout_s"`
	SocketConnectTimeoutS float64 `yaml:"socket_connect_timeout_s"`

	// Batch
	BatchSize    int     `yaml:"batch_size"`
	BatchDelayS  float64 `yaml:"batch_delay_s"`

	// Rate limit
	RateLimitEnabled    bool            `yaml:"rate_limit_enabled"`
	RateLimitRequests   int             `yaml:"rate_limit_requests"`
	RateLimitWindowS    int             `yaml:"rate_limit_window_s"`
	RateLimitOverrides  []RateLimitRule `yaml:"rate_limit_overrides"`

	// Privacy
	SendCodeSnippet bool `yaml:"send_code_snippet"`
	SendFilePath    bool `yaml:"send_file_path"`

	// Server / store
	WorkerPort      int    `yaml:"worker_port"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	LLMProviderURL  string `yaml:"llm_provider_url"`
	LLMAPIKey       string `yaml:"llm_api_key"`
	LLMModel        string `yaml:"llm_model"`
	LLMTimeoutS     float64 `yaml:"llm_timeout_s"`
	MaxRetries      int    `yaml:"max_retries"`
	NodeTimeoutS    float64 `yaml:"node_timeout_s"`
	TopK            int    `yaml:"top_k"`

	// Embedding (C6 knowledge retrieval)
	EmbeddingBaseURL string  `yaml:"embedding_base_url"`
	EmbeddingAPIKey  string  `yaml:"embedding_api_key"`
	EmbeddingModel   string  `yaml:"embedding_model"`
	EmbeddingDim     int     `yaml:"embedding_dim"`
	EmbeddingTimeoutS float64 `yaml:"embedding_timeout_s"`
}

var (
	global     *Config
	globalOnce sync.Once
	globalMu   sync.RWMutex
)

// ConfigPath returns the path to the YAML config file, honouring the
// STRUGGLE_CONFIG_PATH environment override.
func ConfigPath() string {
	if p := os.Getenv("STRUGGLE_CONFIG_PATH"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".struggle-detector", "config.yaml")
}

// Default returns a Config populated with every default named in the
// external interface contract.
func Default() *Config {
	return &Config{
		WindowMs: 300000,

		RetryAttemptThreshold:        3,
		ErrorCountThreshold:          2,
		EditFrequencyThresholdPerMin: 10,
		LevenshteinSimilarityThresh:  0.2,
		MaxLineDistanceForRetry:      2,
		MaxComparisonsPerEdit:        10,
		HesitationThresholdMs:        45000,

		MaxEventsPerFile: 200,
		MaxErrorsPerFile: 20,
		MaxSnippetChars:  300,

		CooldownMs: 120000,

		WeightUndoRedo:    0.25,
		WeightTimePattern: 0.20,
		WeightTerminal:    0.20,
		WeightDebug:       0.15,
		WeightSemantic:    0.10,
		WeightEditPattern: 0.10,
		SemanticEnabled:   false,

		TriggerThreshold: 0.6,

		CacheEnabled:          true,
		CacheTTLSeconds:       3600,
		CacheMaxSize:          1000,
		DistributedEnabled:    false,
		DistributedURL:        "redis://127.0.0.1:6379/0",
		KeyPrefix:             "struggle:llm:",
		PoolSize:              10,
		SocketTimeoutS:        2,
		SocketConnectTimeoutS: 3,

		BatchSize:   5,
		BatchDelayS: 0.1,

		RateLimitEnabled:  true,
		RateLimitRequests: 100,
		RateLimitWindowS:  60,
		RateLimitOverrides: []RateLimitRule{
			{Endpoint: "/api/struggle", Requests: 50, WindowS: 60},
			{Endpoint: "/api/audit", Requests: 30, WindowS: 60},
		},

		SendCodeSnippet: true,
		SendFilePath:    true,

		WorkerPort:     37777,
		LLMModel:       "haiku",
		LLMTimeoutS:    30,
		MaxRetries:     3,
		NodeTimeoutS:   60,
		TopK:           3,

		EmbeddingBaseURL:  "https://api.openai.com/v1",
		EmbeddingModel:    "text-embedding-3-small",
		EmbeddingDim:      1536,
		EmbeddingTimeoutS: 30,
	}
}

// Load reads the YAML config file, merging it over Default(). A missing
// file is not an error; it simply leaves the defaults in place.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn().Err(err).Msg("config: failed to parse config file, using defaults")
		return Default(), nil
	}

	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("config: load failed, using defaults")
			cfg = Default()
		}
		globalMu.Lock()
		global = cfg
		globalMu.Unlock()
	})

	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// set replaces the global config. Used by Watch on reload and by tests.
func set(cfg *Config) {
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
}

// Watch starts an fsnotify watcher on the config file and hot-reloads the
// global configuration whenever it changes on disk. The returned function
// stops the watcher.
func Watch() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(ConfigPath())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != ConfigPath() {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounce.Reset(200 * time.Millisecond)
			case <-debounce.C:
				cfg, err := Load()
				if err != nil {
					log.Warn().Err(err).Msg("config: reload failed")
					continue
				}
				set(cfg)
				log.Info().Msg("config: reloaded from disk")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config: watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
