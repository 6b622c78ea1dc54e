package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridlm/internal/api"
	"github.com/samcharles93/hybridlm/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		maxSessions   int64
		maxConcurrent int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the model over HTTP",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-sessions",
				Usage:       "maximum live sessions (0 = unlimited)",
				Value:       64,
				Destination: &maxSessions,
			},
			&cli.Int64Flag{
				Name:        "max-concurrent",
				Usage:       "maximum forward passes in flight (0 = unlimited)",
				Value:       4,
				Destination: &maxConcurrent,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(configPath()), &addr, &maxSessions, &maxConcurrent)

			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}
			server := api.NewServer(m, api.Options{
				MaxConcurrent: maxConcurrent,
				MaxSessions:   int(maxSessions),
				Log:           log.WithGroup("api"),
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
