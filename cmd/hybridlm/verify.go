package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridlm/internal/logger"
	"github.com/samcharles93/hybridlm/internal/model"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

func verifyCmd() *cli.Command {
	var (
		length    int64
		batch     int64
		tolerance float64
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Check that cached decoding matches a full forward pass",
		Flags: append(commonModelFlags(),
			&cli.Int64Flag{
				Name:        "length",
				Usage:       "tokens per row",
				Value:       8,
				Destination: &length,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Usage:       "batch rows",
				Value:       2,
				Destination: &batch,
			},
			&cli.Float64Flag{
				Name:        "tolerance",
				Usage:       "maximum allowed absolute logit difference",
				Value:       1e-4,
				Destination: &tolerance,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if length < 2 || batch < 1 {
				return cli.Exit("--length must be at least 2 and --batch at least 1", 1)
			}
			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}
			diff, err := prefillDecodeDiff(m, int(batch), int(length))
			if err != nil {
				return err
			}
			log.Info("prefill/decode check", "batch", batch, "length", length, "max_abs_diff", diff)
			if diff > tolerance {
				return cli.Exit(fmt.Sprintf("FAIL: max abs diff %g exceeds %g", diff, tolerance), 1)
			}
			fmt.Printf("OK: max abs diff %g (tolerance %g)\n", diff, tolerance)
			return nil
		},
	}
}

// prefillDecodeDiff runs every row once in full and once as a prefill of
// all but the last token followed by a single cached step, and returns the
// largest final-position logit difference.
func prefillDecodeDiff(m *model.Model, batch, length int) (float64, error) {
	vocab := m.VocabularySize()
	tokens := make([][]int, batch)
	for b := range tokens {
		tokens[b] = make([]int, length)
		for s := range tokens[b] {
			tokens[b][s] = (b*31 + s*17 + 1) % vocab
		}
	}
	full, err := m.Forward(tokens, nil)
	if err != nil {
		return 0, fmt.Errorf("full forward: %w", err)
	}

	prefix := make([][]int, batch)
	last := make([][]int, batch)
	for b := range tokens {
		prefix[b] = tokens[b][:length-1]
		last[b] = tokens[b][length-1:]
	}
	cache := m.NewCache()
	if _, err := m.Forward(prefix, cache); err != nil {
		return 0, fmt.Errorf("prefill: %w", err)
	}
	step, err := m.Forward(last, cache)
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}

	var worst float64
	for b := range batch {
		worst = max(worst, tensor.MaxAbsDiff(full.At(b, length-1), step.At(b, 0)))
	}
	return worst, nil
}
