package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"finlux/internal/amqp"
	"finlux/internal/cache"
	"finlux/internal/cli"
	"finlux/internal/core"
	"finlux/internal/log"
	gsheet "finlux/internal/sheets/google"
	"finlux/internal/worker"
)

func main() {
	resync := flag.Bool("resync", false, "Rebuild the sheet from the mirrored partition's store before consuming.")
	flag.Parse()

	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(os.Stdout, cfg.LogLevel, log.ComponentWorker)
	logger.Info("Starting finlux-mirror")
	cli.MustValidate(logger, cfg)
	if !cfg.FeedEnabled() || !cfg.MirrorEnabled() {
		logger.Error("finlux-mirror needs AMQP_URL and GOOGLE_SPREADSHEET_ID")
		os.Exit(1)
	}
	partition, err := core.ParsePartition(cfg.MirrorPartition)
	if err != nil {
		logger.Error("Invalid mirror partition", log.FieldError, err)
		os.Exit(1)
	}

	sheetsClient, err := gsheet.NewFromConfig(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	if err := sheetsClient.EnsureHeader(context.Background()); err != nil {
		logger.Error("Failed to prepare sheet", log.FieldError, err, "sheet", cfg.GoogleSheetName)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName,
		"partition", partition.String())

	mirror := worker.NewMirrorWorker(sheetsClient, partition, logger)

	if *resync {
		factory := cli.InitFactory(logger, cfg)
		source, err := cli.OpenPartition(context.Background(), factory, partition)
		if err != nil {
			logger.Error("Failed to open partition store", log.FieldError, err, "partition", partition.String())
			os.Exit(1)
		}
		err = mirror.Resync(context.Background(), source)
		_ = source.Close()
		if err != nil {
			logger.Error("Resync failed", log.FieldError, err)
			os.Exit(1)
		}
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	caches := cache.NewManager(logger)
	caches.Register(mirror.SeenCache())
	caches.StartCleanup(5 * time.Minute)
	defer caches.Stop()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeChanges(gctx, mirror.HandleMessage)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
