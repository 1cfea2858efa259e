// Package config provides configuration loading for kimerad.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Every tuning parameter of the contradiction engine and the
// maintenance jobs is a config key rather than a hardcoded constant.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/kimerad/internal/logging"
)

// Config holds the complete kimerad configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       logging.Config      `koanf:"logging"`
	Store         StoreConfig         `koanf:"store"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Contradiction ContradictionConfig `koanf:"contradiction"`
	Thermo        ThermoConfig        `koanf:"thermo"`
	Vault         VaultConfig         `koanf:"vault"`
	Maintenance   MaintenanceConfig   `koanf:"maintenance"`
	Insight       InsightConfig       `koanf:"insight"`
	Mirror        MirrorConfig        `koanf:"mirror"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds persistent store configuration.
type StoreConfig struct {
	// Path is the directory for chromem persistent storage.
	Path string `koanf:"path"`

	// VectorSize is the embedding dimension. Must match the provider.
	VectorSize int `koanf:"vector_size"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	// BaseURL is the TEI-compatible embedding endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name, recorded for provenance.
	Model string `koanf:"model"`
}

// ContradictionConfig holds tension-scoring parameters.
//
// The source material cites inconsistent defaults between 0.30 and 0.75;
// both endpoints are exposed here as the low/high decision thresholds and
// nothing else in the engine hardcodes a threshold.
type ContradictionConfig struct {
	ThresholdHigh   float64  `koanf:"threshold_high"`
	ThresholdLow    float64  `koanf:"threshold_low"`
	WeightEmbedding float64  `koanf:"weight_embedding"`
	WeightSymbolic  float64  `koanf:"weight_symbolic"`
	WeightLayer     float64  `koanf:"weight_layer"`
	Cooldown        Duration `koanf:"cooldown"`
}

// ThermoConfig holds entropy validation parameters.
type ThermoConfig struct {
	// Epsilon is the tolerated entropy decrease before correction kicks in.
	Epsilon float64 `koanf:"epsilon"`
}

// VaultConfig holds dual-vault balance parameters.
type VaultConfig struct {
	// ImbalanceThreshold is the maximum relative weight imbalance allowed
	// after a rebalance pass.
	ImbalanceThreshold float64 `koanf:"imbalance_threshold"`

	// CriticalRatio scales ImbalanceThreshold to the hard ceiling that
	// raises the operator-visible imbalance warning.
	CriticalRatio float64 `koanf:"critical_ratio"`
}

// MaintenanceConfig holds background job parameters.
type MaintenanceConfig struct {
	DecayInterval   Duration `koanf:"decay_interval"`
	FusionInterval  Duration `koanf:"fusion_interval"`
	CrystalInterval Duration `koanf:"crystal_interval"`
	InsightInterval Duration `koanf:"insight_interval"`

	// DecayLambda is the exponential decay rate per second.
	DecayLambda float64 `koanf:"decay_lambda"`

	// WeightFloor marks SCARs below it (and older than RetentionWindow)
	// as prune candidates.
	WeightFloor     float64  `koanf:"weight_floor"`
	RetentionWindow Duration `koanf:"retention_window"`

	// FusionThreshold is the summary-vector cosine similarity above which
	// SCARs cluster for fusion.
	FusionThreshold float64 `koanf:"fusion_threshold"`

	// CrystalThreshold is the SCAR weight above which crystallization fires.
	CrystalThreshold float64 `koanf:"crystal_threshold"`
}

// InsightConfig holds insight lifecycle parameters.
type InsightConfig struct {
	// Alpha is the EMA smoothing factor for utility scores.
	Alpha float64 `koanf:"alpha"`

	PromotionThreshold   float64 `koanf:"promotion_threshold"`
	DeprecationThreshold float64 `koanf:"deprecation_threshold"`

	// ActivationCycles is the number of ticks with non-negative average
	// feedback before provisional promotes to active.
	ActivationCycles int `koanf:"activation_cycles"`

	// SustainCycles is the number of consecutive ticks the utility score
	// must stay above PromotionThreshold before active promotes to
	// strengthened.
	SustainCycles int `koanf:"sustain_cycles"`
}

// MirrorConfig holds graph-mirror outbox configuration.
type MirrorConfig struct {
	// NATSURL is the mirror broker URL. Empty disables the mirror.
	NATSURL string `koanf:"nats_url"`

	// SubjectPrefix prefixes all mirror subjects (default "kimera.mirror").
	SubjectPrefix string `koanf:"subject_prefix"`

	// MaxAttempts bounds publish retries per event.
	MaxAttempts int `koanf:"max_attempts"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9180,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path:       "~/.config/kimerad/store",
			VectorSize: 384,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:8080",
			Model:   "BAAI/bge-small-en-v1.5",
		},
		Contradiction: ContradictionConfig{
			ThresholdHigh:   0.75,
			ThresholdLow:    0.30,
			WeightEmbedding: 1.0 / 3.0,
			WeightSymbolic:  1.0 / 3.0,
			WeightLayer:     1.0 / 3.0,
			Cooldown:        Duration(time.Hour),
		},
		Thermo: ThermoConfig{
			Epsilon: 1e-6,
		},
		Vault: VaultConfig{
			ImbalanceThreshold: 0.2,
			CriticalRatio:      1.5,
		},
		Maintenance: MaintenanceConfig{
			DecayInterval:    Duration(5 * time.Minute),
			FusionInterval:   Duration(15 * time.Minute),
			CrystalInterval:  Duration(15 * time.Minute),
			InsightInterval:  Duration(10 * time.Minute),
			DecayLambda:      0.1,
			WeightFloor:      0.05,
			RetentionWindow:  Duration(72 * time.Hour),
			FusionThreshold:  0.85,
			CrystalThreshold: 20.0,
		},
		Insight: InsightConfig{
			Alpha:                0.5,
			PromotionThreshold:   0.5,
			DeprecationThreshold: 0.1,
			ActivationCycles:     1,
			SustainCycles:        2,
		},
		Mirror: MirrorConfig{
			SubjectPrefix: "kimera.mirror",
			MaxAttempts:   5,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Store.VectorSize <= 0 {
		return errors.New("store vector size must be positive")
	}
	if c.Embedding.BaseURL == "" {
		return errors.New("embedding base URL required")
	}

	cc := c.Contradiction
	if cc.ThresholdLow < 0 || cc.ThresholdHigh > 1 || cc.ThresholdLow >= cc.ThresholdHigh {
		return fmt.Errorf("contradiction thresholds invalid: low=%.3f high=%.3f", cc.ThresholdLow, cc.ThresholdHigh)
	}
	if cc.WeightEmbedding < 0 || cc.WeightSymbolic < 0 || cc.WeightLayer < 0 {
		return errors.New("contradiction weights cannot be negative")
	}
	if cc.WeightEmbedding+cc.WeightSymbolic+cc.WeightLayer == 0 {
		return errors.New("at least one contradiction weight must be positive")
	}

	if c.Thermo.Epsilon < 0 {
		return errors.New("thermo epsilon cannot be negative")
	}
	if c.Vault.ImbalanceThreshold <= 0 || c.Vault.ImbalanceThreshold >= 1 {
		return fmt.Errorf("vault imbalance threshold must be in (0,1): %.3f", c.Vault.ImbalanceThreshold)
	}
	if c.Vault.CriticalRatio < 1 {
		return errors.New("vault critical ratio must be >= 1")
	}

	m := c.Maintenance
	if m.DecayLambda < 0 {
		return errors.New("decay lambda cannot be negative")
	}
	if m.FusionThreshold <= 0 || m.FusionThreshold > 1 {
		return fmt.Errorf("fusion threshold must be in (0,1]: %.3f", m.FusionThreshold)
	}
	if m.CrystalThreshold <= 0 {
		return errors.New("crystal threshold must be positive")
	}
	for name, d := range map[string]Duration{
		"decay_interval":   m.DecayInterval,
		"fusion_interval":  m.FusionInterval,
		"crystal_interval": m.CrystalInterval,
		"insight_interval": m.InsightInterval,
	} {
		if d.Duration() <= 0 {
			return fmt.Errorf("maintenance %s must be positive", name)
		}
	}

	i := c.Insight
	if i.Alpha <= 0 || i.Alpha > 1 {
		return fmt.Errorf("insight alpha must be in (0,1]: %.3f", i.Alpha)
	}
	if i.DeprecationThreshold >= i.PromotionThreshold {
		return errors.New("insight deprecation threshold must be below promotion threshold")
	}
	if i.ActivationCycles < 1 || i.SustainCycles < 1 {
		return errors.New("insight cycle counts must be >= 1")
	}

	if c.Mirror.MaxAttempts < 1 {
		return errors.New("mirror max attempts must be >= 1")
	}
	return nil
}
