package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DatabaseURL string
	WorkerID    string
	StagingRoot string

	Workers      int
	QueueSize    int
	RetryCeiling int

	Broker       string // "channel" or "kafka"
	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string

	ArchiveBucket string

	PdftotextBin string
	PdftoppmBin  string
	TesseractBin string
	OCRLang      string
	OCRDPI       int
	OCRMaxPages  int
	EnableOCR    bool

	MonitorInterval time.Duration
	MonitorSchedule string
	Staleness       time.Duration
	Watermark       time.Duration

	WebAddr        string
	AuthToken      string
	AllowCIDRs     []string
	AuthLimit      int
	AuthWindow     time.Duration
	AuthMaxEntries int
	TLSCert        string
	TLSKey         string
	TLSClientCA    string

	ShutdownTimeout time.Duration
}

// In maps the environment. File config and flags layer on top of the values
// loaded here.
type In struct {
	DatabaseURL string `env:"DATABASE_URL"`
	WorkerID    string `env:"WORKER_ID"`
	StagingRoot string `env:"STAGING_ROOT, default=./documents"`

	Workers      int `env:"WORKERS, default=4"`
	QueueSize    int `env:"QUEUE_SIZE, default=256"`
	RetryCeiling int `env:"RETRY_CEILING, default=3"`

	Broker       string `env:"BROKER, default=channel"`
	KafkaBrokers string `env:"KAFKA_BROKERS, default=localhost:9092"`
	KafkaTopic   string `env:"KAFKA_TOPIC, default=docflow.documents"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID, default=docflow-workers"`

	ArchiveBucket string `env:"ARCHIVE_BUCKET"`

	PdftotextBin string `env:"PDFTOTEXT_BIN, default=pdftotext"`
	PdftoppmBin  string `env:"PDFTOPPM_BIN, default=pdftoppm"`
	TesseractBin string `env:"TESSERACT_BIN, default=tesseract"`
	OCRLang      string `env:"OCR_LANG, default=por"`
	OCRDPI       int    `env:"OCR_DPI, default=300"`
	OCRMaxPages  int    `env:"OCR_MAX_PAGES, default=20"`
	EnableOCR    bool   `env:"ENABLE_OCR, default=true"`

	MonitorInterval time.Duration `env:"MONITOR_INTERVAL, default=1m"`
	MonitorSchedule string        `env:"MONITOR_SCHEDULE"`
	Staleness       time.Duration `env:"STALENESS_WINDOW, default=15m"`
	Watermark       time.Duration `env:"REPUBLISH_WATERMARK, default=5m"`

	WebAddr        string        `env:"WEB_ADDR, default=:8080"`
	AuthToken      string        `env:"WEB_AUTH_TOKEN"`
	AllowCIDRs     []string      `env:"WEB_ALLOW_CIDRS"`
	AuthLimit      int           `env:"WEB_AUTH_LIMIT, default=10"`
	AuthWindow     time.Duration `env:"WEB_AUTH_WINDOW, default=1m"`
	AuthMaxEntries int           `env:"WEB_AUTH_MAX_ENTRIES, default=1024"`
	TLSCert        string        `env:"WEB_TLS_CERT"`
	TLSKey         string        `env:"WEB_TLS_KEY"`
	TLSClientCA    string        `env:"WEB_TLS_CLIENT_CA"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s"`
}

func Load(ctx context.Context) (*Config, error) {
	var input In
	if err := envconfig.Process(ctx, &input); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	workerID := input.WorkerID
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("docflow-%s-%d", hostname, time.Now().Unix())
	}

	cfg := &Config{
		DatabaseURL:     input.DatabaseURL,
		WorkerID:        workerID,
		StagingRoot:     input.StagingRoot,
		Workers:         input.Workers,
		QueueSize:       input.QueueSize,
		RetryCeiling:    input.RetryCeiling,
		Broker:          input.Broker,
		KafkaBrokers:    input.KafkaBrokers,
		KafkaTopic:      input.KafkaTopic,
		KafkaGroupID:    input.KafkaGroupID,
		ArchiveBucket:   input.ArchiveBucket,
		PdftotextBin:    input.PdftotextBin,
		PdftoppmBin:     input.PdftoppmBin,
		TesseractBin:    input.TesseractBin,
		OCRLang:         input.OCRLang,
		OCRDPI:          input.OCRDPI,
		OCRMaxPages:     input.OCRMaxPages,
		EnableOCR:       input.EnableOCR,
		MonitorInterval: input.MonitorInterval,
		MonitorSchedule: input.MonitorSchedule,
		Staleness:       input.Staleness,
		Watermark:       input.Watermark,
		WebAddr:         input.WebAddr,
		AuthToken:       input.AuthToken,
		AllowCIDRs:      input.AllowCIDRs,
		AuthLimit:       input.AuthLimit,
		AuthWindow:      input.AuthWindow,
		AuthMaxEntries:  input.AuthMaxEntries,
		TLSCert:         input.TLSCert,
		TLSKey:          input.TLSKey,
		TLSClientCA:     input.TLSClientCA,
		ShutdownTimeout: input.ShutdownTimeout,
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.StagingRoot == "" {
		return fmt.Errorf("staging root is required")
	}
	switch c.Broker {
	case "channel", "kafka":
	default:
		return fmt.Errorf("unknown broker %q, expected channel or kafka", c.Broker)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.RetryCeiling <= 0 {
		return fmt.Errorf("retry ceiling must be positive, got %d", c.RetryCeiling)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls cert and key must both be set or both be empty")
	}
	return nil
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DatabaseURL, "dsn", c.DatabaseURL, "Database connection string")
	fs.StringVar(&c.WorkerID, "worker-id", c.WorkerID, "Unique worker ID")
	fs.StringVar(&c.StagingRoot, "staging-root", c.StagingRoot, "Root directory for staging areas")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Worker pool size")
	fs.IntVar(&c.QueueSize, "queue-size", c.QueueSize, "In-process queue capacity")
	fs.IntVar(&c.RetryCeiling, "retry-ceiling", c.RetryCeiling, "Attempts before a document fails for good")
	fs.StringVar(&c.Broker, "broker", c.Broker, "Queue broker (channel|kafka)")
	fs.StringVar(&c.ArchiveBucket, "archive-bucket", c.ArchiveBucket, "GCS bucket for completed documents (empty disables)")
	fs.DurationVar(&c.MonitorInterval, "monitor-interval", c.MonitorInterval, "Interval between monitor sweeps")
	fs.DurationVar(&c.Staleness, "staleness", c.Staleness, "Age before an in-flight document counts as stale")
	fs.DurationVar(&c.Watermark, "watermark", c.Watermark, "Age before a pending reference is republished")
	fs.StringVar(&c.WebAddr, "web-addr", c.WebAddr, "HTTP address for health/metrics/API")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Time to wait for in-flight documents on shutdown")
}
