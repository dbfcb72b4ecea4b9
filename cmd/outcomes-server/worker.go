package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/outcomes/outcomes/internal/domain/measure"
	"github.com/outcomes/outcomes/internal/platform/events"
	"github.com/outcomes/outcomes/internal/platform/sweep"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume form.submitted events and run scheduled sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.close()

	sched := sweep.NewScheduler(a.runner, a.tenants, logger)
	if err := sched.Start(ctx, cfg.SweepFlagsCron, cfg.SweepQualityCron); err != nil {
		return err
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.broker != nil {
		consumer, err := events.NewConsumer(a.broker, cfg.AMQPExchange, cfg.AMQPQueue,
			[]string{measure.EventFormSubmitted}, cfg.SweepConcurrency, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx, a.evaluator.HandleMessage) })
	} else {
		logger.Warn().Msg("AMQP_URL not set, running scheduled sweeps only")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info().Msg("worker started")
	err = g.Wait()
	logger.Info().Msg("worker stopped")
	return err
}
