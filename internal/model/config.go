package model

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Activation names accepted in MLPHiddenAct.
const (
	ActReLU2 = "relu2"
	ActSiLU  = "silu"
)

// Config describes a hybrid model. Field names follow the Hugging Face
// nemotron_h config.json so checkpoints' configs can be read directly.
type Config struct {
	VocabSize         int `json:"vocab_size" yaml:"vocab_size"`
	HiddenSize        int `json:"hidden_size" yaml:"hidden_size"`
	NumHiddenLayers   int `json:"num_hidden_layers" yaml:"num_hidden_layers"`
	NumAttentionHeads int `json:"num_attention_heads" yaml:"num_attention_heads"`
	NumKeyValueHeads  int `json:"num_key_value_heads" yaml:"num_key_value_heads"`
	// HeadDim defaults to HiddenSize/NumAttentionHeads when zero.
	HeadDim int `json:"head_dim" yaml:"head_dim"`

	MambaNumHeads int `json:"mamba_num_heads" yaml:"mamba_num_heads"`
	MambaHeadDim  int `json:"mamba_head_dim" yaml:"mamba_head_dim"`
	SSMStateSize  int `json:"ssm_state_size" yaml:"ssm_state_size"`
	ConvKernel    int `json:"conv_kernel" yaml:"conv_kernel"`
	NGroups       int `json:"n_groups" yaml:"n_groups"`

	IntermediateSize                int `json:"intermediate_size" yaml:"intermediate_size"`
	MoEIntermediateSize             int `json:"moe_intermediate_size" yaml:"moe_intermediate_size"`
	MoESharedExpertIntermediateSize int `json:"moe_shared_expert_intermediate_size" yaml:"moe_shared_expert_intermediate_size"`
	NRoutedExperts                  int `json:"n_routed_experts" yaml:"n_routed_experts"`
	NumExpertsPerTok                int `json:"num_experts_per_tok" yaml:"num_experts_per_tok"`

	HybridOverridePattern string  `json:"hybrid_override_pattern" yaml:"hybrid_override_pattern"`
	LayerNormEpsilon      float64 `json:"layer_norm_epsilon" yaml:"layer_norm_epsilon"`

	// Expert grouping: experts are split into NGroup groups and only the
	// best TopKGroup groups are eligible per token.
	NGroup    int `json:"n_group" yaml:"n_group"`
	TopKGroup int `json:"topk_group" yaml:"topk_group"`

	NormTopKProb        bool      `json:"norm_topk_prob" yaml:"norm_topk_prob"`
	RoutedScalingFactor float64   `json:"routed_scaling_factor" yaml:"routed_scaling_factor"`
	TimeStepLimit       []float64 `json:"time_step_limit" yaml:"time_step_limit"`

	UseConvBias       bool    `json:"use_conv_bias" yaml:"use_conv_bias"`
	MambaProjBias     bool    `json:"mamba_proj_bias" yaml:"mamba_proj_bias"`
	AttentionBias     bool    `json:"attention_bias" yaml:"attention_bias"`
	MLPBias           bool    `json:"mlp_bias" yaml:"mlp_bias"`
	MLPHiddenAct      string  `json:"mlp_hidden_act" yaml:"mlp_hidden_act"`
	TieWordEmbeddings bool    `json:"tie_word_embeddings" yaml:"tie_word_embeddings"`
	InitializerRange  float64 `json:"initializer_range" yaml:"initializer_range"`
}

// DefaultConfig returns the optional-field defaults used when decoding a
// config file. Dimensional fields are left zero and must be supplied.
func DefaultConfig() Config {
	return Config{
		LayerNormEpsilon:    1e-5,
		NGroup:              1,
		TopKGroup:           1,
		NormTopKProb:        true,
		RoutedScalingFactor: 1,
		UseConvBias:         true,
		MLPHiddenAct:        ActReLU2,
		InitializerRange:    0.02,
	}
}

// ParseConfig decodes a JSON config on top of DefaultConfig.
//
// Python writes an unbounded time step limit as a bare Infinity token, which
// is not JSON. Inside the time_step_limit array it is rewritten to 0, which
// the runtime treats as "no bound"; anywhere else it is left alone. NaN is
// not accepted.
func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(unboundedStepLimit(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// unboundedStepLimit replaces Infinity tokens in the time_step_limit array
// with 0. raw is returned unchanged when there is no such array.
func unboundedStepLimit(raw []byte) []byte {
	key := []byte(`"time_step_limit"`)
	at := bytes.Index(raw, key)
	if at < 0 {
		return raw
	}
	rest := raw[at+len(key):]
	open := bytes.IndexByte(rest, '[')
	if open < 0 || string(bytes.TrimSpace(rest[:open])) != ":" {
		return raw
	}
	closing := bytes.IndexByte(rest[open:], ']')
	if closing < 0 {
		return raw
	}
	start := at + len(key) + open
	end := start + closing
	span := bytes.ReplaceAll(raw[start:end], []byte("-Infinity"), []byte("0"))
	span = bytes.ReplaceAll(span, []byte("Infinity"), []byte("0"))

	out := make([]byte, 0, len(raw))
	out = append(out, raw[:start]...)
	out = append(out, span...)
	return append(out, raw[end:]...)
}

// ParseConfigYAML decodes a YAML config on top of DefaultConfig.
func ParseConfigYAML(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a config file. Files ending in .yaml or .yml are decoded
// as YAML, everything else as JSON. A directory is taken to contain a
// config.json.
func LoadConfig(path string) (Config, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = filepath.Join(path, "config.json")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseConfigYAML(raw)
	default:
		return ParseConfig(raw)
	}
}

// JSON returns the config as indented JSON with Hugging Face field names.
func (c Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// AttnHeadDim is the per-head width of attention projections.
func (c Config) AttnHeadDim() int {
	if c.HeadDim > 0 {
		return c.HeadDim
	}
	if c.NumAttentionHeads <= 0 {
		return 0
	}
	return c.HiddenSize / c.NumAttentionHeads
}

// MambaInner is the width of the Mamba value stream (heads * head dim).
func (c Config) MambaInner() int {
	return c.MambaNumHeads * c.MambaHeadDim
}

// ConvDim is the number of channels the Mamba convolution runs over: the
// value stream plus the B and C projections of every group.
func (c Config) ConvDim() int {
	return c.MambaInner() + 2*c.NGroups*c.SSMStateSize
}

// TimeStepBounds returns the configured (min, max) clamp for dt. A
// non-positive bound is disabled.
func (c Config) TimeStepBounds() (float64, float64) {
	var lo, hi float64
	if len(c.TimeStepLimit) > 0 {
		lo = c.TimeStepLimit[0]
	}
	if len(c.TimeStepLimit) > 1 {
		hi = c.TimeStepLimit[1]
	}
	return lo, hi
}

// Validate checks every structural invariant and returns the first
// violation as a *ConfigError.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"vocab_size", c.VocabSize},
		{"hidden_size", c.HiddenSize},
		{"num_hidden_layers", c.NumHiddenLayers},
		{"num_attention_heads", c.NumAttentionHeads},
		{"num_key_value_heads", c.NumKeyValueHeads},
		{"mamba_num_heads", c.MambaNumHeads},
		{"mamba_head_dim", c.MambaHeadDim},
		{"ssm_state_size", c.SSMStateSize},
		{"conv_kernel", c.ConvKernel},
		{"n_groups", c.NGroups},
		{"intermediate_size", c.IntermediateSize},
		{"moe_intermediate_size", c.MoEIntermediateSize},
		{"moe_shared_expert_intermediate_size", c.MoESharedExpertIntermediateSize},
		{"n_routed_experts", c.NRoutedExperts},
		{"num_experts_per_tok", c.NumExpertsPerTok},
		{"n_group", c.NGroup},
		{"topk_group", c.TopKGroup},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return configErrorf(p.name, "must be positive, got %d", p.v)
		}
	}
	if c.HeadDim < 0 {
		return configErrorf("head_dim", "must not be negative, got %d", c.HeadDim)
	}
	if c.AttnHeadDim() <= 0 {
		return configErrorf("head_dim", "hidden_size %d too small for %d heads", c.HiddenSize, c.NumAttentionHeads)
	}
	if c.LayerNormEpsilon <= 0 {
		return configErrorf("layer_norm_epsilon", "must be positive, got %g", c.LayerNormEpsilon)
	}
	if c.NumAttentionHeads%c.NumKeyValueHeads != 0 {
		return configErrorf("num_key_value_heads", "%d does not divide num_attention_heads %d", c.NumKeyValueHeads, c.NumAttentionHeads)
	}
	if c.MambaNumHeads%c.NGroups != 0 {
		return configErrorf("n_groups", "%d does not divide mamba_num_heads %d", c.NGroups, c.MambaNumHeads)
	}
	if c.NumExpertsPerTok > c.NRoutedExperts {
		return configErrorf("num_experts_per_tok", "%d exceeds n_routed_experts %d", c.NumExpertsPerTok, c.NRoutedExperts)
	}
	if c.NRoutedExperts%c.NGroup != 0 {
		return configErrorf("n_group", "%d does not divide n_routed_experts %d", c.NGroup, c.NRoutedExperts)
	}
	if c.TopKGroup > c.NGroup {
		return configErrorf("topk_group", "%d exceeds n_group %d", c.TopKGroup, c.NGroup)
	}
	if eligible := c.TopKGroup * (c.NRoutedExperts / c.NGroup); eligible < c.NumExpertsPerTok {
		return configErrorf("topk_group", "only %d experts eligible per token, need %d", eligible, c.NumExpertsPerTok)
	}
	if c.RoutedScalingFactor <= 0 {
		return configErrorf("routed_scaling_factor", "must be positive, got %g", c.RoutedScalingFactor)
	}
	switch c.MLPHiddenAct {
	case ActReLU2, ActSiLU:
	default:
		return configErrorf("mlp_hidden_act", "unsupported activation %q", c.MLPHiddenAct)
	}
	if len(c.TimeStepLimit) > 2 {
		return configErrorf("time_step_limit", "want [min, max], got %d values", len(c.TimeStepLimit))
	}
	if _, err := ParsePattern(c.HybridOverridePattern, c.NumHiddenLayers); err != nil {
		return err
	}
	return nil
}
