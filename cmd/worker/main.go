package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/C1ean-dev/process/internal/blob"
	"github.com/C1ean-dev/process/internal/config"
	"github.com/C1ean-dev/process/internal/events"
	"github.com/C1ean-dev/process/internal/extract"
	"github.com/C1ean-dev/process/internal/logging"
	"github.com/C1ean-dev/process/internal/metrics"
	"github.com/C1ean-dev/process/internal/monitor"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/retry"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
	"github.com/C1ean-dev/process/internal/web"
	"github.com/C1ean-dev/process/internal/worker"
)

func main() {
	ctx := context.Background()

	// 1. Config: env, then optional file, then flags.
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	configPath, err := config.ResolveConfigPath(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to resolve config file: %v", err)
	}
	fileCfg, err := config.LoadFileConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}
	if err := config.ApplyFileConfig(cfg, fileCfg); err != nil {
		log.Fatalf("failed to apply config file: %v", err)
	}
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	fs.String("config", configPath, "Path to config file")
	migrate := fs.Bool("migrate", false, "Run database migrations and exit")
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// 2. Logging
	logger := logging.Init(cfg.WorkerID)

	if *migrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
		return
	}

	// 3. Store and staging areas
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.NewPostgres(pool)

	dirs, err := staging.New(cfg.StagingRoot)
	if err != nil {
		logger.Error("failed to prepare staging areas", "error", err)
		os.Exit(1)
	}

	// 4. Signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	// 5. Queue broker
	var (
		pub      queue.Publisher
		consumer queue.Consumer
	)
	switch cfg.Broker {
	case "kafka":
		kp, err := queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Error("failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		defer kp.Close(context.Background())
		kc, err := queue.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, cfg.QueueSize, logger)
		if err != nil {
			logger.Error("failed to create kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := kc.Start(ctx); err != nil {
			logger.Error("failed to start kafka consumer", "error", err)
			os.Exit(1)
		}
		pub, consumer = kp, kc
	default:
		broker := queue.NewBroker(cfg.QueueSize)
		defer broker.Close()
		pub, consumer = broker, broker
	}

	// 6. Optional archive bucket
	var archive blob.Storage
	if cfg.ArchiveBucket != "" {
		gcs, err := blob.NewGCS(ctx, cfg.ArchiveBucket, logger)
		if err != nil {
			logger.Error("failed to create archive client", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		archive = gcs
	}

	// 7. Pipeline components
	broker := events.NewBroker(0)
	extractor := extract.NewExtractor(extract.Config{
		Pdftotext: cfg.PdftotextBin,
		Pdftoppm:  cfg.PdftoppmBin,
		Tesseract: cfg.TesseractBin,
		Lang:      cfg.OCRLang,
		DPI:       cfg.OCRDPI,
		MaxPages:  cfg.OCRMaxPages,
		EnableOCR: cfg.EnableOCR,
	}, logger)
	controller := retry.NewController(st, dirs, pub, cfg.RetryCeiling, logger)
	workers := worker.NewPool(st, dirs, consumer, extractor, controller, worker.Options{
		Size:    cfg.Workers,
		Archive: archive,
		Events:  broker,
	}, logger)
	mon := monitor.New(monitor.Config{
		Interval:  cfg.MonitorInterval,
		Schedule:  cfg.MonitorSchedule,
		Staleness: cfg.Staleness,
		Watermark: cfg.Watermark,
	}, st, dirs, pub, controller, broker, logger)

	metrics.StartCollector(ctx, st, 0, logger)
	if err := mon.Start(ctx); err != nil {
		logger.Error("failed to start monitor", "error", err)
		os.Exit(1)
	}

	// 8. HTTP surface
	allowlist, err := web.ParseCIDRAllowlist(cfg.AllowCIDRs)
	if err != nil {
		logger.Error("invalid allowlist", "error", err)
		os.Exit(1)
	}
	tlsConfig, err := web.BuildTLSConfig(cfg.TLSCert, cfg.TLSKey, cfg.TLSClientCA)
	if err != nil {
		logger.Error("invalid TLS config", "error", err)
		os.Exit(1)
	}
	server := web.NewServer(st, web.Options{
		Addr:           cfg.WebAddr,
		AuthToken:      cfg.AuthToken,
		AuthLimit:      cfg.AuthLimit,
		AuthWindow:     cfg.AuthWindow,
		AuthMaxEntries: cfg.AuthMaxEntries,
		Allowlist:      allowlist,
		TLS:            tlsConfig,
		Events:         broker,
		Archive:        archive,
	})
	go func() {
		if err := server.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("web server exited", "error", err)
			cancel()
		}
	}()

	// 9. Run until shutdown, then drain.
	workers.Start(ctx)
	logger.Info("pipeline running",
		"workers", cfg.Workers,
		"broker", cfg.Broker,
		"staging_root", cfg.StagingRoot,
	)

	<-ctx.Done()
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker stopped cleanly")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("shutdown timeout reached, exiting with documents in flight")
	}
}
