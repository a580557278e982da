package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var defaultConfigFilenames = []string{
	"docflow.yaml",
	"docflow.yml",
	"docflow.toml",
	".docflow.yaml",
	".docflow.yml",
	".docflow.toml",
}

type FileConfig struct {
	DSN         string            `yaml:"dsn" toml:"dsn"`
	StagingRoot string            `yaml:"staging_root" toml:"staging_root"`
	Worker      WorkerFileConfig  `yaml:"worker" toml:"worker"`
	Queue       QueueFileConfig   `yaml:"queue" toml:"queue"`
	OCR         OCRFileConfig     `yaml:"ocr" toml:"ocr"`
	Monitor     MonitorFileConfig `yaml:"monitor" toml:"monitor"`
	Archive     ArchiveFileConfig `yaml:"archive" toml:"archive"`
	Web         WebFileConfig     `yaml:"web" toml:"web"`
}

type WorkerFileConfig struct {
	WorkerID        string `yaml:"worker_id" toml:"worker_id"`
	Workers         *int   `yaml:"workers" toml:"workers"`
	RetryCeiling    *int   `yaml:"retry_ceiling" toml:"retry_ceiling"`
	ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type QueueFileConfig struct {
	Broker       string `yaml:"broker" toml:"broker"`
	Size         *int   `yaml:"size" toml:"size"`
	KafkaBrokers string `yaml:"kafka_brokers" toml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic" toml:"kafka_topic"`
	KafkaGroupID string `yaml:"kafka_group_id" toml:"kafka_group_id"`
}

type OCRFileConfig struct {
	Pdftotext string `yaml:"pdftotext" toml:"pdftotext"`
	Pdftoppm  string `yaml:"pdftoppm" toml:"pdftoppm"`
	Tesseract string `yaml:"tesseract" toml:"tesseract"`
	Lang      string `yaml:"lang" toml:"lang"`
	DPI       *int   `yaml:"dpi" toml:"dpi"`
	MaxPages  *int   `yaml:"max_pages" toml:"max_pages"`
	Enabled   *bool  `yaml:"enabled" toml:"enabled"`
}

type MonitorFileConfig struct {
	Interval  string `yaml:"interval" toml:"interval"`
	Schedule  string `yaml:"schedule" toml:"schedule"`
	Staleness string `yaml:"staleness" toml:"staleness"`
	Watermark string `yaml:"watermark" toml:"watermark"`
}

type ArchiveFileConfig struct {
	Bucket string `yaml:"bucket" toml:"bucket"`
}

type WebFileConfig struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AuthToken      string   `yaml:"auth_token" toml:"auth_token"`
	AllowCIDRs     []string `yaml:"allow_cidrs" toml:"allow_cidrs"`
	AuthLimit      *int     `yaml:"auth_limit" toml:"auth_limit"`
	AuthWindow     string   `yaml:"auth_window" toml:"auth_window"`
	AuthMaxEntries *int     `yaml:"auth_max_entries" toml:"auth_max_entries"`
	TLSCert        string   `yaml:"tls_cert" toml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key" toml:"tls_key"`
	TLSClientCA    string   `yaml:"tls_client_ca" toml:"tls_client_ca"`
}

func ResolveConfigPath(args []string) (string, error) {
	path, ok, err := parseConfigFlag(args)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if env := os.Getenv("DOCFLOW_CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range defaultConfigFilenames {
		if fileExists(name) {
			return name, nil
		}
	}
	return "", nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	return &cfg, nil
}

func ApplyFileConfig(cfg *Config, fileCfg *FileConfig) error {
	if fileCfg == nil {
		return nil
	}

	if fileCfg.DSN != "" {
		cfg.DatabaseURL = fileCfg.DSN
	}
	if fileCfg.StagingRoot != "" {
		cfg.StagingRoot = fileCfg.StagingRoot
	}

	if fileCfg.Worker.WorkerID != "" {
		cfg.WorkerID = fileCfg.Worker.WorkerID
	}
	if fileCfg.Worker.Workers != nil {
		cfg.Workers = *fileCfg.Worker.Workers
	}
	if fileCfg.Worker.RetryCeiling != nil {
		cfg.RetryCeiling = *fileCfg.Worker.RetryCeiling
	}
	if fileCfg.Worker.ShutdownTimeout != "" {
		parsed, err := parseDurationField("worker.shutdown_timeout", fileCfg.Worker.ShutdownTimeout)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = parsed
	}

	if fileCfg.Queue.Broker != "" {
		cfg.Broker = fileCfg.Queue.Broker
	}
	if fileCfg.Queue.Size != nil {
		cfg.QueueSize = *fileCfg.Queue.Size
	}
	if fileCfg.Queue.KafkaBrokers != "" {
		cfg.KafkaBrokers = fileCfg.Queue.KafkaBrokers
	}
	if fileCfg.Queue.KafkaTopic != "" {
		cfg.KafkaTopic = fileCfg.Queue.KafkaTopic
	}
	if fileCfg.Queue.KafkaGroupID != "" {
		cfg.KafkaGroupID = fileCfg.Queue.KafkaGroupID
	}

	if fileCfg.OCR.Pdftotext != "" {
		cfg.PdftotextBin = fileCfg.OCR.Pdftotext
	}
	if fileCfg.OCR.Pdftoppm != "" {
		cfg.PdftoppmBin = fileCfg.OCR.Pdftoppm
	}
	if fileCfg.OCR.Tesseract != "" {
		cfg.TesseractBin = fileCfg.OCR.Tesseract
	}
	if fileCfg.OCR.Lang != "" {
		cfg.OCRLang = fileCfg.OCR.Lang
	}
	if fileCfg.OCR.DPI != nil {
		cfg.OCRDPI = *fileCfg.OCR.DPI
	}
	if fileCfg.OCR.MaxPages != nil {
		cfg.OCRMaxPages = *fileCfg.OCR.MaxPages
	}
	if fileCfg.OCR.Enabled != nil {
		cfg.EnableOCR = *fileCfg.OCR.Enabled
	}

	if fileCfg.Monitor.Interval != "" {
		parsed, err := parseDurationField("monitor.interval", fileCfg.Monitor.Interval)
		if err != nil {
			return err
		}
		cfg.MonitorInterval = parsed
	}
	if fileCfg.Monitor.Schedule != "" {
		cfg.MonitorSchedule = fileCfg.Monitor.Schedule
	}
	if fileCfg.Monitor.Staleness != "" {
		parsed, err := parseDurationField("monitor.staleness", fileCfg.Monitor.Staleness)
		if err != nil {
			return err
		}
		cfg.Staleness = parsed
	}
	if fileCfg.Monitor.Watermark != "" {
		parsed, err := parseDurationField("monitor.watermark", fileCfg.Monitor.Watermark)
		if err != nil {
			return err
		}
		cfg.Watermark = parsed
	}

	if fileCfg.Archive.Bucket != "" {
		cfg.ArchiveBucket = fileCfg.Archive.Bucket
	}

	if fileCfg.Web.Addr != "" {
		cfg.WebAddr = fileCfg.Web.Addr
	}
	if fileCfg.Web.AuthToken != "" {
		cfg.AuthToken = fileCfg.Web.AuthToken
	}
	if len(fileCfg.Web.AllowCIDRs) > 0 {
		cfg.AllowCIDRs = append([]string{}, fileCfg.Web.AllowCIDRs...)
	}
	if fileCfg.Web.AuthLimit != nil {
		cfg.AuthLimit = *fileCfg.Web.AuthLimit
	}
	if fileCfg.Web.AuthWindow != "" {
		parsed, err := parseDurationField("web.auth_window", fileCfg.Web.AuthWindow)
		if err != nil {
			return err
		}
		cfg.AuthWindow = parsed
	}
	if fileCfg.Web.AuthMaxEntries != nil {
		cfg.AuthMaxEntries = *fileCfg.Web.AuthMaxEntries
	}
	if fileCfg.Web.TLSCert != "" {
		cfg.TLSCert = fileCfg.Web.TLSCert
	}
	if fileCfg.Web.TLSKey != "" {
		cfg.TLSKey = fileCfg.Web.TLSKey
	}
	if fileCfg.Web.TLSClientCA != "" {
		cfg.TLSClientCA = fileCfg.Web.TLSClientCA
	}

	return nil
}

func parseConfigFlag(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 >= len(args) || args[i+1] == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return args[i+1], true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimPrefix(arg, "--config=")
			if value == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func parseDurationField(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return parsed, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
