// Package config loads application configuration from file and environment
// and wires the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/linden-group/costmatch-cli/internal/candidate"
	"github.com/linden-group/costmatch-cli/internal/match"
	"github.com/linden-group/costmatch-cli/internal/rank"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Rules     RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Canonical CanonicalConfig  `yaml:"canonical" mapstructure:"canonical"`
	Candidate candidate.Config `yaml:"candidate" mapstructure:"candidate"`
	Rank      rank.Config      `yaml:"rank" mapstructure:"rank"`
	Match     match.Config     `yaml:"match" mapstructure:"match"`
	Batch     BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RulesConfig points at the rule documents and controls hot reload.
type RulesConfig struct {
	ClassifierPath string `yaml:"classifier_path" mapstructure:"classifier_path"`
	RiskPath       string `yaml:"risk_path" mapstructure:"risk_path"`
	Watch          bool   `yaml:"watch" mapstructure:"watch"`
}

// CanonicalConfig holds the key builder's tolerance grids.
type CanonicalConfig struct {
	DimensionGridMM float64 `yaml:"dimension_grid_mm" mapstructure:"dimension_grid_mm"`
	AngleGridDeg    float64 `yaml:"angle_grid_deg" mapstructure:"angle_grid_deg"`
}

// BatchConfig configures concurrent batch matching.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COSTMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "costmatch.db")
	v.SetDefault("rules.classifier_path", "rules/classifier.yaml")
	v.SetDefault("rules.risk_path", "")
	v.SetDefault("rules.watch", false)
	v.SetDefault("canonical.dimension_grid_mm", 5)
	v.SetDefault("canonical.angle_grid_deg", 5)
	v.SetDefault("candidate.max_candidates", 200)
	v.SetDefault("candidate.escape_hatch_limit", 2)
	v.SetDefault("candidate.dimension_tolerance_mm", 25)
	v.SetDefault("rank.min_score", 40)
	v.SetDefault("rank.token_weight", 0.6)
	v.SetDefault("rank.edit_weight", 0.4)
	v.SetDefault("rank.text_max", 82)
	v.SetDefault("rank.dimension_bonus", 8)
	v.SetDefault("rank.material_bonus", 5)
	v.SetDefault("rank.unit_bonus", 5)
	v.SetDefault("match.high_confidence", 80)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
