package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/hybridlm/internal/model"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte("preset: mamba-attn\nweight_seed: 9\ntemperature: 0\nkv_dtype: f16\nmax_sessions: 3\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := LoadConfig(path)
	if cfg.Preset != "mamba-attn" || cfg.KVDType != "f16" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.WeightSeed == nil || *cfg.WeightSeed != 9 {
		t.Fatalf("weight_seed = %v", cfg.WeightSeed)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Fatal("explicit zero temperature was dropped")
	}
	if cfg.TopK != nil {
		t.Fatal("unset top_k should stay nil")
	}
	if got := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); got.Preset != "" {
		t.Fatalf("missing file produced %+v", got)
	}
}

func TestParseTokens(t *testing.T) {
	t.Parallel()
	got, err := parseTokens("1, 2 3,,4")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, got); diff != "" {
		t.Fatalf("tokens (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"", "1,x", " , "} {
		if _, err := parseTokens(bad); err == nil {
			t.Fatalf("parseTokens(%q) succeeded", bad)
		}
	}
}

func newPresetModel(t *testing.T, name string) *model.Model {
	t.Helper()
	cfg, err := model.Preset(name)
	if err != nil {
		t.Fatal(err)
	}
	m, err := model.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestPrefillDecodeDiff(t *testing.T) {
	t.Parallel()
	for _, name := range model.PresetNames() {
		diff, err := prefillDecodeDiff(newPresetModel(t, name), 2, 6)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if diff > 1e-4 {
			t.Fatalf("%s: max abs diff %g", name, diff)
		}
	}
}

func TestWriteLayerTable(t *testing.T) {
	t.Parallel()

	// tiny: 2 kv heads of width 8, so k+v is 2*2*8 elements per position.
	tests := []struct {
		dtype tensor.DType
		want  []string
	}{
		{tensor.F32, []string{"kv f32", "128 B/position"}},
		{tensor.F16, []string{"kv f16", "64 B/position"}},
	}
	m := newPresetModel(t, "tiny")
	for _, tc := range tests {
		var buf bytes.Buffer
		writeLayerTable(&buf, m, tc.dtype)
		out := buf.String()
		want := append([]string{"mamba", "attention", "dense", "moe", "pattern M*M-E**E", "5 stateful slots", "moe routing: 2 of 8 experts"}, tc.want...)
		for _, w := range want {
			if !strings.Contains(out, w) {
				t.Fatalf("%s table missing %q:\n%s", tc.dtype, w, out)
			}
		}
	}

	var buf bytes.Buffer
	writeLayerTable(&buf, newPresetModel(t, "mamba-attn"), tensor.F32)
	if strings.Contains(buf.String(), "moe routing") {
		t.Fatalf("moe summary printed for a model without moe layers:\n%s", buf.String())
	}
}
