package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration file
// (~/.config/hybridlm/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	ModelConfig string `yaml:"model_config"`
	Preset      string `yaml:"preset"`
	WeightSeed  *int64 `yaml:"weight_seed"`

	// Sampling defaults
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	Steps         *int64   `yaml:"steps"`
	Seed          *int64   `yaml:"seed"`

	// Cache
	KVDType    string `yaml:"kv_dtype"`
	KVCapacity *int64 `yaml:"kv_capacity"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	MaxSessions   *int64 `yaml:"max_sessions"`
	MaxConcurrent *int64 `yaml:"max_concurrent"`
}

func configPath() string {
	if p := os.Getenv("HYBRIDLM_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hybridlm", "config.yaml")
}

// LoadConfig reads the config file. It returns a zero Config if the file
// doesn't exist or can't be parsed.
func LoadConfig(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.ModelConfig != "" && !c.IsSet("config") {
		configFile = cfg.ModelConfig
	}
	if cfg.Preset != "" && !c.IsSet("preset") {
		preset = cfg.Preset
	}
	if cfg.WeightSeed != nil && !c.IsSet("weight-seed") {
		weightSeed = *cfg.WeightSeed
	}
}

// runSettings are the run command values the config file may supply.
type runSettings struct {
	temp          float64
	topK          int64
	topP          float64
	repeatPenalty float64
	steps         int64
	seed          int64
	kvDType       string
	kvCapacity    int64
}

// applyRunConfig applies config file defaults to run settings when the
// corresponding flag was not explicitly set.
func applyRunConfig(c *cli.Command, cfg Config, s *runSettings) {
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		s.temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		s.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		s.topP = *cfg.TopP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		s.repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		s.steps = *cfg.Steps
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		s.seed = *cfg.Seed
	}
	if cfg.KVDType != "" && !c.IsSet("kv-dtype") {
		s.kvDType = cfg.KVDType
	}
	if cfg.KVCapacity != nil && !c.IsSet("kv-capacity") {
		s.kvCapacity = *cfg.KVCapacity
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxSessions, maxConcurrent *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxSessions != nil && !c.IsSet("max-sessions") {
		*maxSessions = *cfg.MaxSessions
	}
	if cfg.MaxConcurrent != nil && !c.IsSet("max-concurrent") {
		*maxConcurrent = *cfg.MaxConcurrent
	}
}
