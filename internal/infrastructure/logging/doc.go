// Package logging provides structured logging for Prism.
//
// This package wraps Go's standard log/slog package so every component
// logs the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to hub", "url", cfg.Hub.URL)
//
// # Security
//
// Never log the hub token or MQTT password. Use Redact when a log line
// needs to identify which credential was used:
//
//	logger.Info("hub token changed", "token", logging.Redact(token))
package logging
