package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all backcast configuration. Durations are expressed in the
// unit named by the field so the YAML stays human-editable.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Graph        GraphConfig        `yaml:"graph"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Prediction   PredictionConfig   `yaml:"prediction"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GraphConfig struct {
	HalfLifeDays            float64 `yaml:"half_life_days"`
	WeightCap               float64 `yaml:"weight_cap"`
	ReinforceIncrement      float64 `yaml:"reinforce_increment"`
	PruneMinWeight          float64 `yaml:"prune_min_weight"`
	PruneIntervalMinutes    int     `yaml:"prune_interval_minutes"`
	NodeRetentionDays       float64 `yaml:"node_retention_days"`
	SnapshotIntervalMinutes int     `yaml:"snapshot_interval_minutes"`
}

type SegmentationConfig struct {
	// IdleGapMinutes is the single governing parameter for segmentation
	// granularity: a gap longer than this closes the open context.
	IdleGapMinutes int `yaml:"idle_gap_minutes"`
	// AppSwitchGapMinutes: a shorter gap combined with a change of
	// application also counts as a discontinuity.
	AppSwitchGapMinutes int `yaml:"app_switch_gap_minutes"`
	// ToleranceMinutes bounds how far behind the open context's last
	// activity an event's timestamp may lag before it is dropped.
	ToleranceMinutes int `yaml:"tolerance_minutes"`
}

type PredictionConfig struct {
	CandidateLimit         int           `yaml:"candidate_limit"`
	TopN                   int           `yaml:"top_n"`
	SimilarityTopN         int           `yaml:"similarity_top_n"`
	RecencyHalfLifeMinutes int           `yaml:"recency_half_life_minutes"`
	OracleTimeoutSeconds   int           `yaml:"oracle_timeout_seconds"`
	ProximityMinWeight     float64       `yaml:"proximity_min_weight"`
	Weights                FusionWeights `yaml:"weights"`
}

// FusionWeights assigns a relative weight to each relevance signal. They are
// renormalized per candidate over whichever signals are actually available,
// so they need not sum to 1 here.
type FusionWeights struct {
	Similarity float64 `yaml:"similarity"`
	Proximity  float64 `yaml:"proximity"`
	Recency    float64 `yaml:"recency"`
	Pattern    float64 `yaml:"pattern"`
}

type EmbeddingConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38800,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Graph: GraphConfig{
			HalfLifeDays:            7,
			WeightCap:               5.0,
			ReinforceIncrement:      1.0,
			PruneMinWeight:          0.05,
			PruneIntervalMinutes:    5,
			NodeRetentionDays:       30,
			SnapshotIntervalMinutes: 5,
		},
		Segmentation: SegmentationConfig{
			IdleGapMinutes:      10,
			AppSwitchGapMinutes: 3,
			ToleranceMinutes:    2,
		},
		Prediction: PredictionConfig{
			CandidateLimit:         50,
			TopN:                   5,
			SimilarityTopN:         10,
			RecencyHalfLifeMinutes: 30,
			OracleTimeoutSeconds:   5,
			ProximityMinWeight:     0.01,
			Weights: FusionWeights{
				Similarity: 0.35,
				Proximity:  0.30,
				Recency:    0.20,
				Pattern:    0.15,
			},
		},
		Embedding: EmbeddingConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
			CacheSize: 256,
		},
	}
}

// DefaultPath returns the default config file path: ~/.backcast/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".backcast", "config.yaml"), nil
}

// Load reads YAML from path, overlaying it on the defaults. A missing file is
// not an error — defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Derived durations.

func (c GraphConfig) HalfLife() time.Duration {
	return time.Duration(c.HalfLifeDays * float64(24*time.Hour))
}

func (c GraphConfig) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalMinutes) * time.Minute
}

func (c GraphConfig) NodeRetention() time.Duration {
	return time.Duration(c.NodeRetentionDays * float64(24*time.Hour))
}

func (c GraphConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMinutes) * time.Minute
}

func (c SegmentationConfig) IdleGap() time.Duration {
	return time.Duration(c.IdleGapMinutes) * time.Minute
}

func (c SegmentationConfig) AppSwitchGap() time.Duration {
	return time.Duration(c.AppSwitchGapMinutes) * time.Minute
}

func (c SegmentationConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceMinutes) * time.Minute
}

func (c PredictionConfig) RecencyHalfLife() time.Duration {
	return time.Duration(c.RecencyHalfLifeMinutes) * time.Minute
}

func (c PredictionConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSeconds) * time.Second
}
