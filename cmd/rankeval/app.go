package main

import (
	"github.com/spf13/cobra"

	"github.com/rankeval/rankeval/internal/analysis"
	"github.com/rankeval/rankeval/internal/bus"
	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/experiment"
	"github.com/rankeval/rankeval/internal/observability"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/store"
)

// app wires the services shared by the commands.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	results   *store.Service
	bus       bus.Bus
	collector *observability.Collector
	runner    *experiment.Runner
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), logLevel, cfg.Log.Format)

	storage, err := store.New(cfg.Store)
	if err != nil {
		return nil, err
	}
	results := store.NewService(storage, log)

	eventBus, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		results.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		results: results,
		bus:     eventBus,
	}

	engineOpts := []analysis.Option{
		analysis.WithLogger(log),
		analysis.WithWorkers(cfg.Analysis.Workers),
	}
	if cfg.Observability.MetricsEnabled {
		a.collector = observability.NewCollector()
		a.bus = bus.NewInstrumentedBus(eventBus, a.collector)
		engineOpts = append(engineOpts, analysis.WithRecorder(a.collector))
	}

	a.runner = experiment.NewRunner(analysis.NewEngine(engineOpts...), results,
		experiment.WithBus(a.bus),
		experiment.WithRunLog(observability.NewRunLog(cfg.Observability.RunLogSize)),
		experiment.WithLogger(log),
		experiment.WithDefaults(cfg.Analysis),
		experiment.WithScoring(cfg.Scoring),
	)
	return a, nil
}

// Close flushes metrics and releases the bus and storage.
func (a *app) Close() {
	if a.collector != nil && a.cfg.Observability.MetricsFile != "" {
		if err := a.collector.WriteTextfile(a.cfg.Observability.MetricsFile); err != nil {
			a.log.WithError(err).Warn("Failed to write metrics file", "path", a.cfg.Observability.MetricsFile)
		}
	}
	if err := a.bus.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close bus")
	}
	if err := a.results.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close storage")
	}
}
