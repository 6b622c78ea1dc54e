package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridlm/internal/model"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

func inspectCmd() *cli.Command {
	var (
		showConfig bool
		kvDType    string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the layer layout and cache plan of a model",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "config-json",
				Usage:       "also print the resolved config as JSON",
				Destination: &showConfig,
			},
			&cli.StringFlag{
				Name:        "kv-dtype",
				Usage:       "attention cache storage used for per-position sizes (f32, f16)",
				Value:       "f32",
				Destination: &kvDType,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dtype, err := tensor.ParseDType(kvDType)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}
			writeLayerTable(os.Stdout, m, dtype)
			if showConfig {
				raw, err := m.Config().JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(raw))
			}
			return nil
		},
	}
}

// writeLayerTable renders one row per layer with its block, cache slot and
// per-position state cost for the given KV storage type.
func writeLayerTable(w io.Writer, m *model.Model, dtype tensor.DType) {
	cfg := m.Config()
	kv := m.KVHeads()
	cache := m.NewCache(model.WithBatch(1), model.WithKVDType(dtype))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Layer", "Tag", "Block", "KV Heads", "Cache Slot", "State", "Params"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, l := range m.Layers() {
		slot, state := "-", "-"
		switch e := cache[i].(type) {
		case *model.SSMState:
			slot = "ssm"
			state = fmt.Sprintf("conv %v + ssm %v", e.Conv().Shape[1:], e.SSM().Shape[1:])
		case *model.KVState:
			slot = "kv " + e.DType().String()
			state = fmt.Sprintf("%d B/position", 2*e.DType().Size()*kv[i]*cfg.AttnHeadDim())
		}
		table.Append([]string{
			strconv.Itoa(i),
			string(l.Type.Char()),
			l.Type.String(),
			strconv.Itoa(kv[i]),
			slot,
			state,
			strconv.Itoa(l.Block.Params()),
		})
	}
	table.Render()

	fmt.Fprintf(w, "pattern %s, vocab %d, hidden %d, %d params, %d stateful slots\n",
		m.Pattern().String(), m.VocabularySize(), cfg.HiddenSize, m.Params(), cache.Stateful())
	if m.Pattern().Has(model.BlockMoE) {
		fmt.Fprintf(w, "moe routing: %d of %d experts per token, %d of %d groups, scale %g\n",
			cfg.NumExpertsPerTok, cfg.NRoutedExperts, cfg.TopKGroup, cfg.NGroup, cfg.RoutedScalingFactor)
	}
}
