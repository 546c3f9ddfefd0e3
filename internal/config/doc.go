// Package config loads the tally client configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/tally/config.toml (default)
//  3. If the config file doesn't exist, fall back to built-in defaults
//  4. If the file exists but fields are missing/empty, use defaults
//
// # TOML Format
//
//	api_url = "127.0.0.1:8787"
//	log_dir = "~/.local/share/tally/logs"
//	log_level = "info"
//	metrics_bind = ""            # e.g. "127.0.0.1:9464" to serve /metrics
//
//	[sync]
//	interval = "5m"              # periodic sync tick
//	min_resync_gap = "2m"        # SyncIfStale skips within this gap; "0s" disables it
//	probe_interval = "15s"       # health probe cadence while online
//	loading_threshold = 2        # named operations before the overlay shows
//
//	[ttl]
//	profile = "5m"
//	events = "10m"
//	tasks = "5m"
//	sanctions = "5m"
//
// Durations use Go syntax. Tilde expansion is performed for log_dir and the
// config path.
//
// # Error Handling
//
// Load returns errors for:
//   - Path expansion failures (e.g., cannot determine home directory)
//   - File read errors (except os.ErrNotExist, which triggers defaults)
//   - TOML or duration parsing errors ("parse config: ...")
//   - Out-of-range values ("invalid config: ...")
//
// Missing config files are NOT an error. The client works against a local dev
// server without any configuration.
package config
