package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dynoml/dyno/internal/build"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/logger"
	"github.com/dynoml/dyno/internal/tensor"
)

func simulateCmd() *cli.Command {
	var (
		specPath   string
		dataPath   string
		outPath    string
		paramsPath string
		savePath   string
		logLevel   string
	)

	return &cli.Command{
		Name:  "simulate",
		Usage: "Roll out a model over the horizon implied by an input bag",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "spec",
				Usage:       "model spec YAML file",
				Required:    true,
				Destination: &specPath,
			},
			&cli.StringFlag{
				Name:        "data",
				Usage:       "input tensor bag JSON file",
				Required:    true,
				Destination: &dataPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Usage:       "write the output bag to this file instead of stdout",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "params",
				Usage:       "load model parameters from a checkpoint",
				Destination: &paramsPath,
			},
			&cli.StringFlag{
				Name:        "save-params",
				Usage:       "write the model parameters to a checkpoint after building",
				Destination: &savePath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "info",
				Destination: &logLevel,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.Pretty(os.Stderr, logger.ParseLevel(logLevel))

			model, err := loadModel(specPath, paramsPath)
			if err != nil {
				return err
			}
			if savePath != "" {
				if err := build.SaveParamsFile(savePath, model); err != nil {
					return err
				}
				log.Info("saved checkpoint", "path", savePath)
			}

			raw, err := os.ReadFile(dataPath)
			if err != nil {
				return fmt.Errorf("read input bag: %w", err)
			}
			inputs, err := dataflow.UnmarshalBag(raw)
			if err != nil {
				return err
			}

			out, err := model.Forward(inputs)
			if err != nil {
				return err
			}
			logRun(log, out)

			payload, err := dataflow.MarshalBag(out)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = fmt.Println(string(payload))
				return err
			}
			return os.WriteFile(outPath, payload, 0o644)
		},
	}
}

func validateCmd() *cli.Command {
	var specPath string

	return &cli.Command{
		Name:  "validate",
		Usage: "Check a model spec and instantiate it once",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "spec",
				Usage:       "model spec YAML file",
				Required:    true,
				Destination: &specPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := loadModel(specPath, "")
			if err != nil {
				return err
			}
			log := logger.Pretty(os.Stderr, slog.LevelInfo)
			log.Info("spec is valid",
				"family", model.Spec.Family,
				"kind", model.Spec.Kind,
				"inputs", strings.Join(model.InputKeys(), ","),
				"outputs", strings.Join(model.OutputKeys(), ","),
				"parameters", len(model.Parameters()))
			return nil
		},
	}
}

func loadModel(specPath, paramsPath string) (*build.Model, error) {
	spec, err := build.LoadSpec(specPath)
	if err != nil {
		return nil, err
	}
	model, err := build.Build(spec)
	if err != nil {
		return nil, err
	}
	if paramsPath != "" {
		if err := build.LoadParamsFile(paramsPath, model); err != nil {
			return nil, err
		}
	}
	return model, nil
}

func logRun(log logger.Logger, out dataflow.Bag) {
	for key, v := range out {
		switch t := v.(type) {
		case tensor.Scalar:
			log.Info("simulation finished", "key", key, "reg_error", float64(t))
		case *tensor.Series:
			log.Debug("trajectory", "key", key, "steps", t.Steps, "batch", t.Batch, "features", t.Features)
		}
	}
}
