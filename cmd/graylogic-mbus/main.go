// Gray Logic M-Bus - device discovery service
//
// This is the main entry point for the Gray Logic M-Bus service. It runs
// M-Bus gateway scans as temporary resources that clients start, poll and
// cancel over the REST API, with live progress pushed over WebSocket and
// MQTT.
//
// Commands:
//
//	graylogic-mbus serve      run the service (default)
//	graylogic-mbus scan FILE  run one scan locally and print the result
//	graylogic-mbus user add   create a user account
//	graylogic-mbus migrate    inspect or change the database schema
//	graylogic-mbus version    print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C or SIGTERM so every command shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
