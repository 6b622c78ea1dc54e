package model

import (
	"fmt"
	"slices"
	"strings"
)

// Preset returns a small built-in configuration by name. Presets exist so
// the model can run without a config file.
func Preset(name string) (Config, error) {
	base := DefaultConfig()
	base.VocabSize = 100
	base.HiddenSize = 32
	base.NumAttentionHeads = 4
	base.NumKeyValueHeads = 2
	base.HeadDim = 8
	base.MambaNumHeads = 4
	base.MambaHeadDim = 8
	base.SSMStateSize = 8
	base.ConvKernel = 4
	base.NGroups = 2
	base.IntermediateSize = 64
	base.MoEIntermediateSize = 32
	base.MoESharedExpertIntermediateSize = 32
	base.NRoutedExperts = 8
	base.NumExpertsPerTok = 2

	switch strings.ToLower(name) {
	case "tiny":
		base.HybridOverridePattern = "M*M-E**E"
		base.NGroup = 2
		base.TopKGroup = 1
		base.RoutedScalingFactor = 2.5
	case "mamba-attn":
		base.HybridOverridePattern = "M*"
	case "dense":
		base.HybridOverridePattern = "*-*-"
		base.MLPHiddenAct = ActSiLU
		base.TieWordEmbeddings = true
	default:
		return Config{}, fmt.Errorf("unknown preset %q (want one of %s)", name, strings.Join(PresetNames(), ", "))
	}
	base.NumHiddenLayers = len(base.HybridOverridePattern)
	return base, nil
}

// PresetNames lists the names Preset accepts.
func PresetNames() []string {
	names := []string{"tiny", "mamba-attn", "dense"}
	slices.Sort(names)
	return names
}
