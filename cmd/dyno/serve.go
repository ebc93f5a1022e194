package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/dynoml/dyno/internal/api"
	"github.com/dynoml/dyno/internal/logger"
	"github.com/dynoml/dyno/internal/runstore"
	"github.com/dynoml/dyno/internal/version"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		store       string
		storePath   string
		logLevel    string
		readTimeout time.Duration
		specPaths   []string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the simulation REST API",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "spec",
				Usage:       "model spec YAML file (repeatable)",
				Destination: &specPaths,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8090",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "store",
				Usage:       "run store backend (memory, sqlite)",
				Value:       "memory",
				Destination: &store,
			},
			&cli.StringFlag{
				Name:        "store-path",
				Usage:       "sqlite database path",
				Destination: &storePath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr, &store, &storePath)
			log := logger.JSON(os.Stderr, logger.ParseLevel(logLevel))

			if len(specPaths) == 0 {
				return fmt.Errorf("at least one --spec is required")
			}

			runs, err := runstore.NewStore(store, storePath)
			if err != nil {
				return err
			}
			if err := runs.Init(ctx); err != nil {
				return err
			}
			defer func() {
				if err := runstore.CloseIfSupported(runs); err != nil {
					log.Error("close run store", "error", err)
				}
			}()

			server := api.NewServer(runs, log)
			for _, path := range specPaths {
				model, err := loadModel(path, "")
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				server.AddModel("", model)
				log.Info("registered model", "spec", path,
					"family", model.Spec.Family, "kind", model.Spec.Kind)
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "version", version.String())
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

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the dyno version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, err := fmt.Println(version.String())
			return err
		},
	}
}
