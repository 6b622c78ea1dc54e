package inference

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/hybridlm/internal/logger"
	"github.com/samcharles93/hybridlm/internal/logits"
)

// Stats summarises one generation run.
type Stats struct {
	PromptTokens    int
	ReusedTokens    int
	TokensGenerated int
	PrefillDuration time.Duration
	DecodeDuration  time.Duration
	PrefillTPS      float64
	DecodeTPS       float64
}

func tps(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// Generator decodes single-row sequences on top of a Session. When a new
// prompt extends the tokens the session already holds, only the new suffix
// is prefilled; otherwise the session is reset first. Recurrent state
// cannot be rewound, so a prompt that diverges from the context always
// starts over.
type Generator struct {
	Session    *Session
	Sampler    *logits.Sampler
	StopTokens []int
	Log        logger.Logger
}

// Run prefills prompt and samples up to steps tokens, calling emit for
// each. It returns the generated ids. A negative steps decodes until a
// stop token or cancellation.
func (g *Generator) Run(ctx context.Context, prompt []int, steps int, emit func(id int)) ([]int, Stats, error) {
	var stats Stats
	if len(prompt) == 0 {
		return nil, stats, fmt.Errorf("empty prompt")
	}
	if g.Session.Batch() > 1 {
		return nil, stats, fmt.Errorf("generator needs a single-row session, got %d rows", g.Session.Batch())
	}
	log := g.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	reused := g.reusable(prompt)
	if reused == 0 && g.Session.Len() > 0 {
		g.Session.Reset()
	}
	stats.PromptTokens = len(prompt)
	stats.ReusedTokens = reused

	start := time.Now()
	if suffix := prompt[reused:]; len(suffix) > 0 {
		if _, err := g.Session.Forward([][]int{suffix}); err != nil {
			return nil, stats, fmt.Errorf("prefill: %w", err)
		}
	}
	stats.PrefillDuration = time.Since(start)
	stats.PrefillTPS = tps(len(prompt)-reused, stats.PrefillDuration)
	log.Debug("prefill done", "prompt", len(prompt), "reused", reused, "tps", stats.PrefillTPS)

	limit := steps
	if limit < 0 {
		limit = int(^uint(0) >> 1)
	}
	var out []int
	start = time.Now()
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return out, stats, err
		}
		next := g.Sampler.Sample(g.Session.Last(0), g.Session.Tokens(0))
		if slices.Contains(g.StopTokens, next) {
			break
		}
		out = append(out, next)
		if emit != nil {
			emit(next)
		}
		if _, err := g.Session.Step([]int{next}); err != nil {
			return out, stats, fmt.Errorf("decode step %d: %w", i, err)
		}
		stats.TokensGenerated++
	}
	stats.DecodeDuration = time.Since(start)
	stats.DecodeTPS = tps(stats.TokensGenerated, stats.DecodeDuration)
	return out, stats, nil
}

// reusable returns how many leading prompt tokens are already in the
// session. A full match with nothing new to feed is only reusable when the
// last logits are still available.
func (g *Generator) reusable(prompt []int) int {
	ctx := g.Session.Tokens(0)
	if len(ctx) == 0 || len(ctx) > len(prompt) || !slices.Equal(ctx, prompt[:len(ctx)]) {
		return 0
	}
	if len(ctx) == len(prompt) && g.Session.Last(0) == nil {
		return 0
	}
	return len(ctx)
}
