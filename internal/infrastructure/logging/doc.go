// Package logging provides structured logging for heatpump-link.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level filter, and default fields.
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
//	logger.Info("poll cycle complete", "published", 19)
//	logger.Error("request failed", "topic", topic, "error", err)
//
// Never log broker credentials.
package logging
