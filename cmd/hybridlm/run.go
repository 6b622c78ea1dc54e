package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridlm/internal/inference"
	"github.com/samcharles93/hybridlm/internal/logger"
	"github.com/samcharles93/hybridlm/internal/logits"
	"github.com/samcharles93/hybridlm/internal/model"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

func runCmd() *cli.Command {
	var (
		tokens     string
		stopTokens string
		s          = runSettings{
			topK:          40,
			topP:          0.95,
			repeatPenalty: 1.1,
			steps:         16,
			seed:          -1,
		}
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Prefill a prompt of token ids and decode from it",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "tokens",
				Aliases:     []string{"p"},
				Usage:       "prompt token ids, comma separated",
				Value:       "1,2,3,4,5",
				Destination: &tokens,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to generate (-1 = until a stop token)",
				Value:       s.steps,
				Destination: &s.steps,
			},
			&cli.Float64Flag{
				Name:        "temperature",
				Aliases:     []string{"temp", "t"},
				Usage:       "sampling temperature (0 = greedy)",
				Value:       s.temp,
				Destination: &s.temp,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Usage:       "top-k sampling",
				Value:       s.topK,
				Destination: &s.topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "top-p sampling",
				Value:       s.topP,
				Destination: &s.topP,
			},
			&cli.Float64Flag{
				Name:        "repeat-penalty",
				Usage:       "repetition penalty",
				Value:       s.repeatPenalty,
				Destination: &s.repeatPenalty,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling seed (-1 = derived from weight seed)",
				Value:       s.seed,
				Destination: &s.seed,
			},
			&cli.StringFlag{
				Name:        "stop",
				Usage:       "stop token ids, comma separated",
				Destination: &stopTokens,
			},
			&cli.StringFlag{
				Name:        "kv-dtype",
				Usage:       "attention cache storage (f32, f16)",
				Value:       "f32",
				Destination: &s.kvDType,
			},
			&cli.Int64Flag{
				Name:        "kv-capacity",
				Usage:       "positions to reserve in every attention cache",
				Destination: &s.kvCapacity,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, LoadConfig(configPath()), &s)

			prompt, err := parseTokens(tokens)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			var stops []int
			if stopTokens != "" {
				if stops, err = parseTokens(stopTokens); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}
			dtype, err := tensor.ParseDType(s.kvDType)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}
			if s.seed < 0 {
				s.seed = weightSeed
			}

			session := inference.NewSession(m, model.WithKVDType(dtype), model.WithKVCapacity(int(s.kvCapacity)))
			gen := &inference.Generator{
				Session: session,
				Sampler: logits.NewSampler(logits.SamplerConfig{
					Seed:          s.seed,
					Temperature:   float32(s.temp),
					TopK:          int(s.topK),
					TopP:          float32(s.topP),
					RepeatPenalty: float32(s.repeatPenalty),
				}),
				StopTokens: stops,
				Log:        log,
			}

			var sb strings.Builder
			out, stats, err := gen.Run(ctx, prompt, int(s.steps), func(id int) {
				fmt.Fprintf(&sb, " %d", id)
			})
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			fmt.Printf("prompt:    %v\n", prompt)
			fmt.Printf("generated:%s\n", sb.String())
			fmt.Printf("positions: %d (cache %d bytes in %d slots)\n", session.Len(), session.Cache().Bytes(), session.Cache().Stateful())
			log.Info("generation complete",
				"generated", len(out),
				"prefill", stats.PrefillDuration,
				"prefill_tps", stats.PrefillTPS,
				"decode", stats.DecodeDuration,
				"decode_tps", stats.DecodeTPS,
			)
			return nil
		},
	}
}
