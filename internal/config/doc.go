// Package config handles configuration loading for pigeonhole.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package validates what it parses; unset values fall back to the store's
// own defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${PIGEONHOLE_DB}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	database:
//	  busy_timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/pigeonhole/mail.db"
//	  busy_timeout: "30s"
//	  cache_kb: 10000
//	  max_open_conns: 8
//
// Search:
//
//	search:
//	  snippet_length: 200
//
// Index analysis thresholds:
//
//	analyze:
//	  min_rows_for_index: 100
//	  max_indexes_small_table: 5
//	  small_table_rows: 1000
//
// Backups:
//
//	backup:
//	  directory: "/var/lib/pigeonhole/backups"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database path presence
//   - Duration format validity
//   - Logging level and format values
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/pigeonhole/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
