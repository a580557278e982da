// Command docflow is the operator CLI: inspect document state and put
// failed documents back through the pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/C1ean-dev/process/internal/config"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/retry"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if os.Args[1] == "--version" || os.Args[1] == "version" {
		fmt.Printf("docflow version %s\n", Version)
		return
	}

	switch os.Args[1] {
	case "status":
		runStatus(os.Args[2:])
	case "failed":
		runFailed(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "retry":
		runRetry(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: docflow <status|failed|inspect|retry|migrate|version> [args]")
}

func loadConfig(name string, args []string) (*config.Config, []string) {
	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	configPath, err := config.ResolveConfigPath(args)
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
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.String("config", configPath, "Path to config file")
	cfg.BindFlags(fs)
	_ = fs.Parse(args)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	return cfg, fs.Args()
}

func openStore(cfg *config.Config) (store.Store, func()) {
	pool, err := store.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return store.NewPostgres(pool), pool.Close
}

func runStatus(args []string) {
	cfg, _ := loadConfig("status", args)
	st, closeStore := openStore(cfg)
	defer closeStore()

	counts, err := st.CountByStatus(context.Background())
	if err != nil {
		log.Fatalf("failed to count documents: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range []models.Status{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusReprocessing,
		models.StatusCompleted,
		models.StatusFailed,
	} {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	w.Flush()
}

func runFailed(args []string) {
	cfg, _ := loadConfig("failed", args)
	st, closeStore := openStore(cfg)
	defer closeStore()

	docs, err := st.ListFailed(context.Background(), 50)
	if err != nil {
		log.Fatalf("failed to list failed documents: %v", err)
	}
	if len(docs) == 0 {
		fmt.Println("no failed documents")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORIGINAL NAME\tRETRIES\tUPDATED\tREASON")
	for i := range docs {
		doc := &docs[i]
		reason := ""
		if doc.FailureReason != nil {
			reason = *doc.FailureReason
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			doc.ID, doc.OriginalName, doc.Retries,
			doc.UpdatedAt.Format("2006-01-02 15:04:05"), reason)
	}
	w.Flush()
}

func runInspect(args []string) {
	cfg, rest := loadConfig("inspect", args)
	id := parseID(rest, "inspect")
	st, closeStore := openStore(cfg)
	defer closeStore()

	doc, err := st.Get(context.Background(), id)
	if err != nil {
		log.Fatalf("failed to fetch document %d: %v", id, err)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Fatalf("failed to render document: %v", err)
	}
	fmt.Println(string(payload))
}

func runRetry(args []string) {
	cfg, rest := loadConfig("retry", args)
	id := parseID(rest, "retry")
	st, closeStore := openStore(cfg)
	defer closeStore()

	dirs, err := staging.New(cfg.StagingRoot)
	if err != nil {
		log.Fatalf("failed to open staging areas: %v", err)
	}

	// The running worker's monitor republishes the pending record, so the
	// CLI does not need a broker connection of its own.
	controller := retry.NewController(st, dirs, noopPublisher{}, cfg.RetryCeiling, nil)
	if err := controller.Resubmit(context.Background(), id); err != nil {
		log.Fatalf("failed to resubmit document %d: %v", id, err)
	}
	fmt.Printf("document %d resubmitted\n", id)
}

func runMigrate(args []string) {
	cfg, _ := loadConfig("migrate", args)
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println("migrations applied")
}

func parseID(args []string, command string) int64 {
	if len(args) != 1 {
		log.Fatalf("usage: docflow %s [flags] ID", command)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		log.Fatalf("invalid document id %q", args[0])
	}
	return id
}

// noopPublisher reports the queue as closed so the enqueue timestamp stays
// empty and the monitor republishes the document on its next sweep.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, queue.Message) error { return queue.ErrQueueClosed }
