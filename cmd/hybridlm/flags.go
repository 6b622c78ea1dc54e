package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridlm/internal/logger"
	"github.com/samcharles93/hybridlm/internal/model"
)

var (
	configFile string
	preset     string
	weightSeed int64
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "model config.json / .yaml, or a directory holding config.json",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "preset",
			Usage:       "built-in config when --config is not given (" + strings.Join(model.PresetNames(), ", ") + ")",
			Value:       "tiny",
			Destination: &preset,
		},
		&cli.Int64Flag{
			Name:        "weight-seed",
			Usage:       "seed for weight initialisation",
			Value:       1,
			Destination: &weightSeed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// loadModel builds the model selected by --config or --preset.
func loadModel(ctx context.Context, cmd *cli.Command) (*model.Model, error) {
	log := logger.FromContext(ctx)
	applyModelConfig(cmd, LoadConfig(configPath()))

	var (
		cfg model.Config
		err error
	)
	source := "preset " + preset
	if configFile != "" {
		source = configFile
		cfg, err = model.LoadConfig(configFile)
	} else {
		cfg, err = model.Preset(preset)
	}
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	m, err := model.New(cfg, model.WithSeed(weightSeed), model.WithLogger(log))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("build model from %s: %v", source, err), 1)
	}
	log.Info("model ready", "source", source, "pattern", m.Pattern().String(), "params", m.Params())
	return m, nil
}

// parseTokens reads a comma or space separated list of token ids.
func parseTokens(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", f, err)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tokens given")
	}
	return out, nil
}
