// Package logging provides structured logging for the Gray Logic M-Bus service.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("scan").Info("scan queued", "resource_id", id)
//
// Never log secrets, tokens or passwords. Gateway hosts and data source
// XIDs are fine.
package logging
