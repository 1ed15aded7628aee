// Package config provides configuration for the bounce ingest daemon, the
// syslog observer, and the single-shot client.
package config

import (
	"errors"
	"fmt"
	"time"
)

// SpoolConfig controls the on-disk spool and its worker pool.
type SpoolConfig struct {
	// Root is the directory holding incoming/, processing/, done/ and failed/.
	Root string `yaml:"root"`

	// ScanSecs is the period of the fallback directory scan.
	ScanSecs int `yaml:"scan_secs"`

	// WorkerConcurrency is the number of parse/upsert workers.
	WorkerConcurrency int `yaml:"worker_concurrency"`

	// ProcessQueuePerWorker sizes the bounded process queue as
	// worker_concurrency * process_queue_per_worker.
	ProcessQueuePerWorker int `yaml:"process_queue_per_worker"`
}

// ScanInterval returns the scan period as a duration.
func (c SpoolConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanSecs) * time.Second
}

// QueueCapacity returns the process queue capacity.
func (c SpoolConfig) QueueCapacity() int {
	return c.WorkerConcurrency * c.ProcessQueuePerWorker
}

// DatabaseConfig locates the relational store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus exposition server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// ImapConfig configures the optional IMAP fallback poller.
type ImapConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`
	SSL      bool   `yaml:"ssl"`

	PollSecs           int `yaml:"poll_secs"`
	ConnectTimeoutSecs int `yaml:"connect_timeout_secs"`

	// MaxHistoryDays constrains the UNSEEN search with SINCE. Zero means
	// no SINCE constraint.
	MaxHistoryDays int `yaml:"max_history"`

	// MarkSeenUnknown marks messages \Seen when their parsed hash has no
	// corresponding mail_messages row, suppressing re-processing.
	MarkSeenUnknown bool `yaml:"mark_seen_unknown"`
}

// PollInterval returns the poll period as a duration.
func (c ImapConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSecs) * time.Second
}

// ConnectTimeout returns the per-step dial/login bound.
func (c ImapConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// StatusOverride is one row of the action/DSN-class to DB-status mapping
// table. Class is the leading DSN digit ("4", "5") or empty for any class.
type StatusOverride struct {
	Action string `yaml:"action"`
	Class  string `yaml:"class"`
	Status string `yaml:"status"`
}

// DaemonConfig holds the complete bouncerd configuration.
type DaemonConfig struct {
	LogLevel string `yaml:"log_level"`

	// Listen is the framed-TCP ingest address.
	Listen string `yaml:"listen"`

	// MaxFrameSize bounds the total encoded frame size in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`

	IdleTimeoutSecs   int `yaml:"idle_timeout_secs"`
	ShutdownGraceSecs int `yaml:"shutdown_grace_secs"`

	Spool    SpoolConfig    `yaml:"spool"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Imap     ImapConfig     `yaml:"imap"`

	// StatusOverrides replaces rows of the built-in action/class mapping.
	StatusOverrides []StatusOverride `yaml:"status_overrides"`
}

// IdleTimeout returns the per-connection read bound.
func (c DaemonConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// ShutdownGrace returns the total shutdown deadline.
func (c DaemonConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSecs) * time.Second
}

// DefaultDaemon returns the built-in bouncerd configuration.
func DefaultDaemon() DaemonConfig {
	return DaemonConfig{
		LogLevel:          "info",
		Listen:            ":2555",
		MaxFrameSize:      2 << 20,
		IdleTimeoutSecs:   30,
		ShutdownGraceSecs: 20,
		Spool: SpoolConfig{
			Root:                  "/var/spool/bouncer",
			ScanSecs:              60,
			WorkerConcurrency:     4,
			ProcessQueuePerWorker: 8,
		},
		Database: DatabaseConfig{
			Path: "/var/lib/bouncer/bouncer.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9425",
			Path:    "/metrics",
		},
		Imap: ImapConfig{
			Port:               993,
			Mailbox:            "INBOX",
			SSL:                true,
			PollSecs:           300,
			ConnectTimeoutSecs: 10,
		},
	}
}

// Validate checks the daemon configuration for operator mistakes.
func (c DaemonConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.MaxFrameSize < 1024 {
		return fmt.Errorf("max_frame_size %d is below the 1 KiB floor", c.MaxFrameSize)
	}
	if c.Spool.Root == "" {
		return errors.New("spool.root is required")
	}
	if c.Spool.WorkerConcurrency <= 0 {
		return errors.New("spool.worker_concurrency must be positive")
	}
	if c.Spool.ProcessQueuePerWorker <= 0 {
		return errors.New("spool.process_queue_per_worker must be positive")
	}
	if c.Spool.ScanSecs <= 0 {
		return errors.New("spool.scan_secs must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Imap.Enabled {
		if c.Imap.Host == "" {
			return errors.New("imap.host is required when imap is enabled")
		}
		if c.Imap.PollSecs <= 0 {
			return errors.New("imap.poll_secs must be positive")
		}
	}
	for _, o := range c.StatusOverrides {
		if o.Action == "" || o.Status == "" {
			return errors.New("status_overrides entries need action and status")
		}
		if o.Class != "" && o.Class != "4" && o.Class != "5" {
			return fmt.Errorf("status_overrides class %q must be \"4\", \"5\" or empty", o.Class)
		}
	}
	return nil
}

// ObserverConfig holds the complete bounce-observer configuration.
type ObserverConfig struct {
	LogLevel string `yaml:"log_level"`

	// SyslogListen is the UDP address receiving mail-transport log lines.
	SyslogListen string `yaml:"syslog_listen"`

	// Server is the ingest daemon's framed-TCP address.
	Server string `yaml:"server"`

	// Source overrides the host name reported in frames. Defaults to
	// os.Hostname at startup.
	Source string `yaml:"source"`

	MaxFrameSize int `yaml:"max_frame_size"`

	// QueueSize bounds the in-memory channel of pending events.
	QueueSize int `yaml:"queue_size"`

	MappingTTLSecs int `yaml:"mapping_ttl_secs"`
	MapSoftMax     int `yaml:"map_soft_max"`
	SweepSecs      int `yaml:"sweep_secs"`

	HeartbeatSecs      int `yaml:"heartbeat_secs"`
	ConnectTimeoutSecs int `yaml:"connect_timeout_secs"`
	IOTimeoutSecs      int `yaml:"io_timeout_secs"`
	ReconnectMaxSecs   int `yaml:"reconnect_max_secs"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// MappingTTL returns the queue-map entry lifetime.
func (c ObserverConfig) MappingTTL() time.Duration {
	return time.Duration(c.MappingTTLSecs) * time.Second
}

// SweepInterval returns the queue-map sweep period.
func (c ObserverConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSecs) * time.Second
}

// HeartbeatInterval returns the publisher idle probe period.
func (c ObserverConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSecs) * time.Second
}

// ConnectTimeout returns the publisher dial bound.
func (c ObserverConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// IOTimeout returns the publisher write/ack bound.
func (c ObserverConfig) IOTimeout() time.Duration {
	return time.Duration(c.IOTimeoutSecs) * time.Second
}

// ReconnectMax returns the backoff ceiling for reconnect attempts.
func (c ObserverConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxSecs) * time.Second
}

// DefaultObserver returns the built-in bounce-observer configuration.
func DefaultObserver() ObserverConfig {
	return ObserverConfig{
		LogLevel:           "info",
		SyslogListen:       "127.0.0.1:5140",
		Server:             "127.0.0.1:2555",
		MaxFrameSize:       2 << 20,
		QueueSize:          1024,
		MappingTTLSecs:     86400,
		MapSoftMax:         65536,
		SweepSecs:          60,
		HeartbeatSecs:      30,
		ConnectTimeoutSecs: 5,
		IOTimeoutSecs:      10,
		ReconnectMaxSecs:   60,
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9426",
			Path:    "/metrics",
		},
	}
}

// Validate checks the observer configuration.
func (c ObserverConfig) Validate() error {
	if c.SyslogListen == "" {
		return errors.New("syslog_listen address is required")
	}
	if c.Server == "" {
		return errors.New("server address is required")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue_size must be positive")
	}
	if c.MappingTTLSecs <= 0 {
		return errors.New("mapping_ttl_secs must be positive")
	}
	if c.MapSoftMax <= 0 {
		return errors.New("map_soft_max must be positive")
	}
	if c.HeartbeatSecs <= 0 {
		return errors.New("heartbeat_secs must be positive")
	}
	return nil
}
