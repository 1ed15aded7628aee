package config

import "os"

// applyDaemonEnv applies environment overrides to the daemon configuration.
// Environment variables take precedence over the config file.
func applyDaemonEnv(cfg DaemonConfig) DaemonConfig {
	if v := os.Getenv("BOUNCER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BOUNCER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BOUNCER_SPOOL_ROOT"); v != "" {
		cfg.Spool.Root = v
	}
	if v := os.Getenv("BOUNCER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BOUNCER_IMAP_PASSWORD"); v != "" {
		cfg.Imap.Password = v
	}
	return cfg
}

// applyObserverEnv applies environment overrides to the observer
// configuration.
func applyObserverEnv(cfg ObserverConfig) ObserverConfig {
	if v := os.Getenv("OBSERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OBSERVER_SYSLOG_LISTEN"); v != "" {
		cfg.SyslogListen = v
	}
	if v := os.Getenv("OBSERVER_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("OBSERVER_SOURCE"); v != "" {
		cfg.Source = v
	}
	return cfg
}
