package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/config"
	"github.com/tsawler/go-emotion/logger"
	"github.com/tsawler/go-emotion/pipeline"
	"github.com/tsawler/go-emotion/runstore"
)

func main() {
	configPath := flag.String("config", "", "YAML run file (defaults and EMOTION_* variables apply without one)")
	stages := flag.String("stage", "train,cv", "comma separated stages to run: train, cv, bias, predict")
	progress := flag.Bool("progress", true, "print model summaries and per-epoch progress to stderr")
	flag.Parse()

	if err := run(*configPath, *stages, *progress); err != nil {
		fmt.Fprintf(os.Stderr, "emotion-pipeline: %v\n", err)
		os.Exit(1)
	}
}

// progressWriter keeps the redrawn progress bar off stdout, which carries the log
func progressWriter(enabled bool) io.Writer {
	if !enabled {
		return nil
	}
	return os.Stderr
}

func run(configPath, stageList string, progress bool) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg, err := file.Build()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.Log)

	var stages []pipeline.Stage
	for _, name := range strings.Split(stageList, ",") {
		stage, err := pipeline.ParseStage(name)
		if err != nil {
			return err
		}
		stages = append(stages, stage)
	}

	opts := []pipeline.Option{pipeline.WithLogger(log)}
	if w := progressWriter(progress); w != nil {
		opts = append(opts, pipeline.WithProgress(w))
	}
	if cfg.TrackingDSN != "" {
		repo, err := runstore.Open(cfg.TrackingDSN)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.AutoMigrate(); err != nil {
			return err
		}
		opts = append(opts, pipeline.WithTracker(repo))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(cfg, opts...)
	log.WithFields(logrus.Fields{
		"run_id": runner.RunID().String(),
		"stages": stageList,
		"config": configPath,
	}).Info("pipeline starting")

	for _, stage := range stages {
		if err := runner.Run(ctx, stage); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return nil
}
