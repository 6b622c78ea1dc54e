package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/samcharles93/hybridlm/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "hybridlm",
		Usage: "Hybrid Mamba/attention/MoE language model runtime",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg := LoadConfig(configPath())
			applyLoggingConfig(cmd, cfg)
			level := logger.ParseLevel(logLevel)
			if debug {
				level = logger.ParseLevel("debug")
			}
			format := logFormat
			if format == "auto" {
				format = "text"
				if term.IsTerminal(int(os.Stderr.Fd())) {
					format = "pretty"
				}
			}
			return logger.WithContext(ctx, logger.ForFormat(os.Stderr, format, level)), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			inspectCmd(),
			verifyCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
