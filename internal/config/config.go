package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete contextd configuration.
// It covers the embedder, reasoner, search, reranker, consolidation,
// project, language, and server settings.
type Config struct {
	Version int `yaml:"version" json:"version"`
	DataDir string `yaml:"data_dir" json:"data_dir"`
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`
	Reasoner ReasonerConfig `yaml:"reasoner" json:"reasoner"`
	Search SearchConfig `yaml:"search" json:"search"`
	Reranker RerankerConfig `yaml:"reranker" json:"reranker"`
	Consolidation ConsolidationConfig `yaml:"consolidation" json:"consolidation"`
	Project ProjectConfig `yaml:"project" json:"project"`
	Language LanguageConfig `yaml:"language" json:"language"`
	Server ServerConfig `yaml:"server" json:"server"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Model string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// ReasonerConfig configures the local/external model router.
type ReasonerConfig struct {
	Local LocalReasonerConfig `yaml:"local" json:"local"`
	External ExternalReasonerConfig `yaml:"external" json:"external"`
}

// LocalReasonerConfig configures R-local.
type LocalReasonerConfig struct {
	Model string `yaml:"model" json:"model"`
}

// ExternalReasonerConfig configures R-ext. An empty Command disables it,
// and the router falls back to R-local for every task.
type ExternalReasonerConfig struct {
	Command string `yaml:"command" json:"command"`
}

// SearchConfig configures the hybrid retrieval engine.
type SearchConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`
	VectorCandidateCount int `yaml:"vector_candidate_count" json:"vector_candidate_count"`
	LexicalCandidateCount int `yaml:"lexical_candidate_count" json:"lexical_candidate_count"`
	IncludeSessionSummaries bool `yaml:"include_session_summaries" json:"include_session_summaries"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// RerankerConfig configures the rule-based and cross-encoder rerankers.
type RerankerConfig struct {
	CrossEncoderEnabled bool `yaml:"cross_encoder_enabled" json:"cross_encoder_enabled"`
	CrossEncoderTopK int `yaml:"cross_encoder_top_k" json:"cross_encoder_top_k"`
	CrossEncoderCacheSize int `yaml:"cross_encoder_cache_size" json:"cross_encoder_cache_size"`
	CrossEncoderCacheTTLSec int `yaml:"cross_encoder_cache_ttl_seconds" json:"cross_encoder_cache_ttl_seconds"`
	CrossEncoderMaxParallel int `yaml:"cross_encoder_max_parallel" json:"cross_encoder_max_parallel"`
	SemanticHitThreshold float64 `yaml:"semantic_hit_threshold" json:"semantic_hit_threshold"`
	Weights RerankWeights `yaml:"weights" json:"weights"`
}

// RerankWeights are the weighted-sum coefficients for the rule-based reranker.
type RerankWeights struct {
	Strength float64 `yaml:"strength" json:"strength"`
	Recency float64 `yaml:"recency" json:"recency"`
	Refs float64 `yaml:"refs" json:"refs"`
	Lexical float64 `yaml:"lexical" json:"lexical"`
	Vector float64 `yaml:"vector" json:"vector"`
	Metadata float64 `yaml:"metadata" json:"metadata"`
}

// ConsolidationConfig configures the tier-migration and forgetting scheduler.
type ConsolidationConfig struct {
	Schedule string `yaml:"schedule" json:"schedule"`
	Enabled bool `yaml:"enabled" json:"enabled"`
	AgeThresholdDays int `yaml:"age_threshold_days" json:"age_threshold_days"`
	ImportanceThreshold float64 `yaml:"importance_threshold" json:"importance_threshold"`
	ClusterSimilarityThreshold float64 `yaml:"cluster_similarity_threshold" json:"cluster_similarity_threshold"`
	MinClusterSize int `yaml:"min_cluster_size" json:"min_cluster_size"`
	WorkingRetentionHours int `yaml:"working_retention_hours" json:"working_retention_hours"`
}

// ProjectConfig configures the project memory pool.
type ProjectConfig struct {
	// PrefetchThreshold is the project_hint confidence (0.0-1.0) that
	// triggers pool warm-up; compared directly against session.ProjectHint.Confidence.
	PrefetchThreshold float64 `yaml:"prefetch_threshold" json:"prefetch_threshold"`
	PoolSizeCap int `yaml:"pool_size_cap" json:"pool_size_cap"`
	PoolTTLSeconds int `yaml:"pool_ttl_seconds" json:"pool_ttl_seconds"`
	PrefetchQueries []string `yaml:"prefetch_queries" json:"prefetch_queries"`
}

// LanguageConfig configures language detection and the local/external fallback policy.
type LanguageConfig struct {
	SupportedLocal []string `yaml:"supported_local" json:"supported_local"`
	FallbackStrategy string `yaml:"fallback_strategy" json:"fallback_strategy"` // "local" | "external"
}

// ServerConfig configures the MCP server and logging.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Embedder: EmbedderConfig{
			Model: "qwen3-embedding:8b",
			OllamaHost: "", // empty uses default http://localhost:11434
			Dimensions: 0, // auto-detect from embedder
			BatchSize: 32,
		},
		Reasoner: ReasonerConfig{
			Local: LocalReasonerConfig{Model: "qwen3:0.6b"},
			External: ExternalReasonerConfig{Command: ""}, // empty disables R-ext
		},
		Search: SearchConfig{
			TopK: 10,
			VectorCandidateCount: 40,
			LexicalCandidateCount: 40,
			IncludeSessionSummaries: true,
			TimeoutSeconds: 10,
		},
		Reranker: RerankerConfig{
			CrossEncoderEnabled: true,
			CrossEncoderTopK: 20,
			CrossEncoderCacheSize: 2000,
			CrossEncoderCacheTTLSec: 3600,
			CrossEncoderMaxParallel: 4,
			SemanticHitThreshold: 0.85,
			Weights: RerankWeights{
				Strength: 0.2,
				Recency: 0.15,
				Refs: 0.1,
				Lexical: 0.2,
				Vector: 0.25,
				Metadata: 0.1,
			},
		},
		Consolidation: ConsolidationConfig{
			Schedule: "0 3 * * *",
			Enabled: true,
			AgeThresholdDays: 30,
			ImportanceThreshold: 0.3,
			ClusterSimilarityThreshold: 0.9,
			MinClusterSize: 3,
			WorkingRetentionHours: 8,
		},
		Project: ProjectConfig{
			PrefetchThreshold: 0.7,
			PoolSizeCap: 100,
			PoolTTLSeconds: 28800,
			PrefetchQueries: nil,
		},
		Language: LanguageConfig{
			SupportedLocal: []string{"en"},
			FallbackStrategy: "local",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel: "info",
		},
	}
}

// defaultDataDir returns the default data directory, ~/.context-orchestrator.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".context-orchestrator")
	}
	return filepath.Join(home, ".context-orchestrator")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
// - $XDG_CONFIG_HOME/contextd/config.yaml (if XDG_CONFIG_HOME is set)
// - ~/.config/contextd/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "contextd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "contextd", "config.yaml")
	}
	return filepath.Join(home, ".config", "contextd", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration given a data directory. It applies configuration
// in order of increasing precedence:
// 1. Hardcoded defaults
// 2. User/global config (~/.config/contextd/config.yaml)
// 3. Project config (<data_dir>/config.yaml)
// 4. Environment variable overrides (CONTEXTD_*)
func Load(dataDir string) (*Config, error) {
	cfg := NewConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(cfg.DataDir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from <dir>/config.yaml.
func (c *Config) loadFromFile(dir string) error {
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return c.loadYAML(path)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Embedder.Model != "" {
		c.Embedder.Model = other.Embedder.Model
	}
	if other.Embedder.OllamaHost != "" {
		c.Embedder.OllamaHost = other.Embedder.OllamaHost
	}
	if other.Embedder.Dimensions != 0 {
		c.Embedder.Dimensions = other.Embedder.Dimensions
	}
	if other.Embedder.BatchSize != 0 {
		c.Embedder.BatchSize = other.Embedder.BatchSize
	}

	if other.Reasoner.Local.Model != "" {
		c.Reasoner.Local.Model = other.Reasoner.Local.Model
	}
	if other.Reasoner.External.Command != "" {
		c.Reasoner.External.Command = other.Reasoner.External.Command
	}

	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.VectorCandidateCount != 0 {
		c.Search.VectorCandidateCount = other.Search.VectorCandidateCount
	}
	if other.Search.LexicalCandidateCount != 0 {
		c.Search.LexicalCandidateCount = other.Search.LexicalCandidateCount
	}
	if other.Search.TimeoutSeconds != 0 {
		c.Search.TimeoutSeconds = other.Search.TimeoutSeconds
	}

	if other.Reranker.CrossEncoderTopK != 0 {
		c.Reranker.CrossEncoderTopK = other.Reranker.CrossEncoderTopK
	}
	if other.Reranker.CrossEncoderCacheSize != 0 {
		c.Reranker.CrossEncoderCacheSize = other.Reranker.CrossEncoderCacheSize
	}
	if other.Reranker.CrossEncoderCacheTTLSec != 0 {
		c.Reranker.CrossEncoderCacheTTLSec = other.Reranker.CrossEncoderCacheTTLSec
	}
	if other.Reranker.CrossEncoderMaxParallel != 0 {
		c.Reranker.CrossEncoderMaxParallel = other.Reranker.CrossEncoderMaxParallel
	}
	if other.Reranker.SemanticHitThreshold != 0 {
		c.Reranker.SemanticHitThreshold = other.Reranker.SemanticHitThreshold
	}
	mergeWeight(&c.Reranker.Weights.Strength, other.Reranker.Weights.Strength)
	mergeWeight(&c.Reranker.Weights.Recency, other.Reranker.Weights.Recency)
	mergeWeight(&c.Reranker.Weights.Refs, other.Reranker.Weights.Refs)
	mergeWeight(&c.Reranker.Weights.Lexical, other.Reranker.Weights.Lexical)
	mergeWeight(&c.Reranker.Weights.Vector, other.Reranker.Weights.Vector)
	mergeWeight(&c.Reranker.Weights.Metadata, other.Reranker.Weights.Metadata)

	if other.Consolidation.Schedule != "" {
		c.Consolidation.Schedule = other.Consolidation.Schedule
	}
	if other.Consolidation.AgeThresholdDays != 0 {
		c.Consolidation.AgeThresholdDays = other.Consolidation.AgeThresholdDays
	}
	if other.Consolidation.ImportanceThreshold != 0 {
		c.Consolidation.ImportanceThreshold = other.Consolidation.ImportanceThreshold
	}
	if other.Consolidation.ClusterSimilarityThreshold != 0 {
		c.Consolidation.ClusterSimilarityThreshold = other.Consolidation.ClusterSimilarityThreshold
	}
	if other.Consolidation.MinClusterSize != 0 {
		c.Consolidation.MinClusterSize = other.Consolidation.MinClusterSize
	}
	if other.Consolidation.WorkingRetentionHours != 0 {
		c.Consolidation.WorkingRetentionHours = other.Consolidation.WorkingRetentionHours
	}

	if other.Project.PrefetchThreshold != 0 {
		c.Project.PrefetchThreshold = other.Project.PrefetchThreshold
	}
	if other.Project.PoolSizeCap != 0 {
		c.Project.PoolSizeCap = other.Project.PoolSizeCap
	}
	if other.Project.PoolTTLSeconds != 0 {
		c.Project.PoolTTLSeconds = other.Project.PoolTTLSeconds
	}
	if len(other.Project.PrefetchQueries) > 0 {
		c.Project.PrefetchQueries = other.Project.PrefetchQueries
	}

	if len(other.Language.SupportedLocal) > 0 {
		c.Language.SupportedLocal = other.Language.SupportedLocal
	}
	if other.Language.FallbackStrategy != "" {
		c.Language.FallbackStrategy = other.Language.FallbackStrategy
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

func mergeWeight(dst *float64, src float64) {
	if src != 0 {
		*dst = src
	}
}

// applyEnvOverrides applies CONTEXTD_* environment variable overrides.
// CONTEXT_ORCHESTRATOR_LANG_OVERRIDE is handled separately, per-ingestion,
// by internal/language.Detect — it selects the language of a single
// conversation, not the server-wide supported-locale list.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONTEXTD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CONTEXTD_EMBEDDER_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("CONTEXTD_OLLAMA_HOST"); v != "" {
		c.Embedder.OllamaHost = v
	}
	if v := os.Getenv("CONTEXTD_REASONER_LOCAL_MODEL"); v != "" {
		c.Reasoner.Local.Model = v
	}
	if v := os.Getenv("CONTEXTD_REASONER_EXTERNAL_COMMAND"); v != "" {
		c.Reasoner.External.Command = v
	}
	if v := os.Getenv("CONTEXTD_SEARCH_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Search.TopK = n
		}
	}
	if v := os.Getenv("CONTEXTD_CROSS_ENCODER_ENABLED"); v != "" {
		c.Reranker.CrossEncoderEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CONTEXTD_SEMANTIC_HIT_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Reranker.SemanticHitThreshold = t
		}
	}
	if v := os.Getenv("CONTEXTD_CONSOLIDATION_ENABLED"); v != "" {
		c.Consolidation.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CONTEXTD_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CONTEXTD_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	if c.Search.TopK < 0 {
		return fmt.Errorf("search.top_k must be non-negative, got %d", c.Search.TopK)
	}
	if c.Search.VectorCandidateCount < 0 {
		return fmt.Errorf("search.vector_candidate_count must be non-negative, got %d", c.Search.VectorCandidateCount)
	}
	if c.Search.LexicalCandidateCount < 0 {
		return fmt.Errorf("search.lexical_candidate_count must be non-negative, got %d", c.Search.LexicalCandidateCount)
	}

	if c.Reranker.SemanticHitThreshold < 0 || c.Reranker.SemanticHitThreshold > 1 {
		return fmt.Errorf("reranker.semantic_hit_threshold must be between 0 and 1, got %f", c.Reranker.SemanticHitThreshold)
	}

	w := c.Reranker.Weights
	sum := w.Strength + w.Recency + w.Refs + w.Lexical + w.Vector + w.Metadata
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("reranker.weights must sum to 1.0, got %.2f", sum)
	}

	if c.Consolidation.ImportanceThreshold < 0 || c.Consolidation.ImportanceThreshold > 1 {
		return fmt.Errorf("consolidation.importance_threshold must be between 0 and 1, got %f", c.Consolidation.ImportanceThreshold)
	}
	if c.Consolidation.ClusterSimilarityThreshold < 0 || c.Consolidation.ClusterSimilarityThreshold > 1 {
		return fmt.Errorf("consolidation.cluster_similarity_threshold must be between 0 and 1, got %f", c.Consolidation.ClusterSimilarityThreshold)
	}
	if c.Consolidation.MinClusterSize < 1 {
		return fmt.Errorf("consolidation.min_cluster_size must be at least 1, got %d", c.Consolidation.MinClusterSize)
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	validFallback := map[string]bool{"local": true, "external": true}
	if !validFallback[strings.ToLower(c.Language.FallbackStrategy)] {
		return fmt.Errorf("language.fallback_strategy must be 'local' or 'external', got %s", c.Language.FallbackStrategy)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
