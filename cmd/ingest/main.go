// Command ingest submits files into the pipeline: each file gets a unique
// stored name, a copy in the pending staging area, and a task record. With
// the kafka broker a queue reference is published directly; otherwise the
// running worker's monitor picks the document up on its next sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/C1ean-dev/process/internal/config"
	"github.com/C1ean-dev/process/internal/extract"
	"github.com/C1ean-dev/process/internal/logging"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
)

func main() {
	ctx := context.Background()

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
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fs.String("config", configPath, "Path to config file")
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [flags] FILE...")
		os.Exit(2)
	}

	logger := logging.Init(cfg.WorkerID)

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

	var pub queue.Publisher
	if cfg.Broker == "kafka" {
		kp, err := queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Error("failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		defer kp.Close(context.Background())
		pub = kp
	}

	exitCode := 0
	for _, path := range files {
		if err := submit(ctx, st, dirs, pub, path); err != nil {
			logger.Error("submission failed", "file", path, "error", err)
			exitCode = 1
			continue
		}
		logger.Info("submitted", "file", path)
	}
	os.Exit(exitCode)
}

func submit(ctx context.Context, st store.Store, dirs *staging.Dirs, pub queue.Publisher, path string) error {
	originalName := filepath.Base(path)
	if !extract.Supported(originalName) {
		return fmt.Errorf("unsupported file type %q", filepath.Ext(originalName))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	storedName := uuid.NewString() + filepath.Ext(originalName)
	if _, err := dirs.Place(staging.AreaPending, storedName, data); err != nil {
		return fmt.Errorf("place in pending area: %w", err)
	}

	id, err := st.Create(ctx, &models.Document{
		OriginalName: originalName,
		StoredName:   storedName,
		Status:       models.StatusPending,
	})
	if err != nil {
		// Leave the staged file; the monitor adopts it as an orphan.
		return fmt.Errorf("create record: %w", err)
	}

	if pub != nil {
		now := time.Now().UTC()
		if err := pub.Publish(ctx, queue.Message{TaskID: id, EnqueuedAt: now}); err != nil {
			return fmt.Errorf("publish reference: %w", err)
		}
		if err := st.TouchEnqueued(ctx, id, now); err != nil {
			return fmt.Errorf("record enqueue time: %w", err)
		}
	}
	return nil
}
