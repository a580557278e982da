package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "docflow.yaml", `
dsn: postgres://file/docflow
staging_root: /var/docflow
worker:
  workers: 6
  retry_ceiling: 5
  shutdown_timeout: 45s
queue:
  broker: kafka
  kafka_topic: docs.in
ocr:
  lang: eng
  dpi: 150
  enabled: false
monitor:
  interval: 2m
  staleness: 20m
web:
  addr: :9090
  auth_token: sekrit
  allow_cidrs:
    - 10.0.0.0/8
`)

	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	cfg := &Config{Workers: 4, RetryCeiling: 3, Broker: "channel", EnableOCR: true}
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.DatabaseURL != "postgres://file/docflow" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.StagingRoot != "/var/docflow" {
		t.Errorf("StagingRoot = %q", cfg.StagingRoot)
	}
	if cfg.Workers != 6 || cfg.RetryCeiling != 5 {
		t.Errorf("worker settings = %d/%d", cfg.Workers, cfg.RetryCeiling)
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}
	if cfg.Broker != "kafka" || cfg.KafkaTopic != "docs.in" {
		t.Errorf("queue settings = %q/%q", cfg.Broker, cfg.KafkaTopic)
	}
	if cfg.OCRLang != "eng" || cfg.OCRDPI != 150 || cfg.EnableOCR {
		t.Errorf("ocr settings = %q/%d/%v", cfg.OCRLang, cfg.OCRDPI, cfg.EnableOCR)
	}
	if cfg.MonitorInterval != 2*time.Minute || cfg.Staleness != 20*time.Minute {
		t.Errorf("monitor settings = %s/%s", cfg.MonitorInterval, cfg.Staleness)
	}
	if cfg.WebAddr != ":9090" || cfg.AuthToken != "sekrit" {
		t.Errorf("web settings = %q/%q", cfg.WebAddr, cfg.AuthToken)
	}
	if len(cfg.AllowCIDRs) != 1 || cfg.AllowCIDRs[0] != "10.0.0.0/8" {
		t.Errorf("AllowCIDRs = %v", cfg.AllowCIDRs)
	}
}

func TestLoadFileConfigTOML(t *testing.T) {
	path := writeConfigFile(t, "docflow.toml", `
dsn = "postgres://toml/docflow"

[worker]
workers = 2

[archive]
bucket = "docflow-archive"
`)

	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	cfg := &Config{Workers: 4}
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.DatabaseURL != "postgres://toml/docflow" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if cfg.ArchiveBucket != "docflow-archive" {
		t.Errorf("ArchiveBucket = %q", cfg.ArchiveBucket)
	}
}

func TestApplyFileConfigKeepsUnsetFields(t *testing.T) {
	path := writeConfigFile(t, "docflow.yaml", "worker:\n  worker_id: from-file\n")
	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	cfg := &Config{DatabaseURL: "postgres://env/docflow", Workers: 4, Broker: "channel"}
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.WorkerID != "from-file" {
		t.Errorf("WorkerID = %q", cfg.WorkerID)
	}
	if cfg.DatabaseURL != "postgres://env/docflow" || cfg.Workers != 4 || cfg.Broker != "channel" {
		t.Errorf("unset fields were overwritten: %+v", cfg)
	}
}

func TestApplyFileConfigBadDuration(t *testing.T) {
	fileCfg := &FileConfig{Monitor: MonitorFileConfig{Interval: "soon"}}
	err := ApplyFileConfig(&Config{}, fileCfg)
	if err == nil || !strings.Contains(err.Error(), "monitor.interval") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFileConfigUnsupportedExtension(t *testing.T) {
	path := writeConfigFile(t, "docflow.ini", "dsn=x\n")
	if _, err := LoadFileConfig(path); err == nil {
		t.Fatal("expected unsupported extension error")
	}
}

func TestResolveConfigPathFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
		err  bool
	}{
		{"double dash", []string{"--config", "custom.yaml"}, "custom.yaml", false},
		{"single dash", []string{"-config", "custom.yaml"}, "custom.yaml", false},
		{"equals form", []string{"--config=custom.toml"}, "custom.toml", false},
		{"missing value", []string{"--config"}, "", true},
		{"empty value", []string{"--config="}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveConfigPath(tt.args)
			if tt.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveConfigPath: %v", err)
			}
			if got != tt.want {
				t.Fatalf("path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveConfigPathEnv(t *testing.T) {
	t.Setenv("DOCFLOW_CONFIG", "/etc/docflow/docflow.yaml")
	got, err := ResolveConfigPath(nil)
	if err != nil {
		t.Fatalf("ResolveConfigPath: %v", err)
	}
	if got != "/etc/docflow/docflow.yaml" {
		t.Fatalf("path = %q", got)
	}
}
