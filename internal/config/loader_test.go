package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDaemonMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadDaemon(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if cfg.Listen != ":2555" {
		t.Errorf("expected default listen, got %q", cfg.Listen)
	}
	if cfg.Spool.QueueCapacity() != 32 {
		t.Errorf("expected default queue capacity 32, got %d", cfg.Spool.QueueCapacity())
	}
}

func TestLoadDaemonFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bouncerd.yaml")
	content := `
log_level: debug
listen: "127.0.0.1:7000"
spool:
  root: /tmp/spool
  worker_concurrency: 2
status_overrides:
  - action: delayed
    class: "5"
    status: suspended
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level: got %q", cfg.LogLevel)
	}
	if cfg.Listen != "127.0.0.1:7000" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Spool.Root != "/tmp/spool" {
		t.Errorf("spool.root: got %q", cfg.Spool.Root)
	}
	if cfg.Spool.WorkerConcurrency != 2 {
		t.Errorf("worker_concurrency: got %d", cfg.Spool.WorkerConcurrency)
	}
	// Untouched fields keep their defaults.
	if cfg.Spool.ScanSecs != 60 {
		t.Errorf("scan_secs default lost: got %d", cfg.Spool.ScanSecs)
	}
	if len(cfg.StatusOverrides) != 1 || cfg.StatusOverrides[0].Status != "suspended" {
		t.Errorf("status_overrides: got %+v", cfg.StatusOverrides)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadDaemonMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bouncerd.yaml")
	if err := os.WriteFile(path, []byte("listen: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDaemon(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDaemonEnvOverrides(t *testing.T) {
	t.Setenv("BOUNCER_LISTEN", "127.0.0.1:9999")
	t.Setenv("BOUNCER_SPOOL_ROOT", "/srv/spool")

	cfg, err := LoadDaemon("")
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9999" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Spool.Root != "/srv/spool" {
		t.Errorf("spool.root: got %q", cfg.Spool.Root)
	}
}

func TestLoadObserverFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observer.yaml")
	content := `
server: "10.0.0.1:2555"
queue_size: 64
mapping_ttl_secs: 3600
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadObserver(path)
	if err != nil {
		t.Fatalf("LoadObserver: %v", err)
	}
	if cfg.Server != "10.0.0.1:2555" {
		t.Errorf("server: got %q", cfg.Server)
	}
	if cfg.QueueSize != 64 {
		t.Errorf("queue_size: got %d", cfg.QueueSize)
	}
	if cfg.SyslogListen != "127.0.0.1:5140" {
		t.Errorf("syslog_listen default lost: got %q", cfg.SyslogListen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestResolvePathOrder(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.yaml")

	if got := ResolvePath(explicit, DaemonConfigEnv, daemonConfigName); got != explicit {
		t.Errorf("positional should win: got %q", got)
	}

	t.Setenv(DaemonConfigEnv, "/etc/bouncerd.yaml")
	if got := ResolvePath("", DaemonConfigEnv, daemonConfigName); got != "/etc/bouncerd.yaml" {
		t.Errorf("env should win over fallbacks: got %q", got)
	}
}

func TestValidateRejections(t *testing.T) {
	cfg := DefaultDaemon()
	cfg.Spool.WorkerConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero workers accepted")
	}

	cfg = DefaultDaemon()
	cfg.Imap.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("imap enabled without host accepted")
	}

	cfg = DefaultDaemon()
	cfg.StatusOverrides = []StatusOverride{{Action: "delayed", Class: "6", Status: "pending"}}
	if err := cfg.Validate(); err == nil {
		t.Error("bad override class accepted")
	}

	ocfg := DefaultObserver()
	ocfg.QueueSize = 0
	if err := ocfg.Validate(); err == nil {
		t.Error("zero queue size accepted")
	}
}
