// heatpump-link bridges a heat pump controller's serial text protocol to MQTT.
//
// The controller answers short ASCII requests ("t0", "p3", "c") with a
// "#"-terminated decimal value on a 19200 8N1 line. heatpump-link polls a
// fixed table of values on a 10 second grid, publishes each decoded value as
// a retained MQTT message, and publishes a snapshot of the controller's
// configuration parameters once at startup.
//
// Commands:
//
//	heatpump-link run  [--config path] [--cycles N]
//	heatpump-link read <name>
//	heatpump-link list
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

func main() {
	// Cancel on Ctrl+C or SIGTERM so the poller stops between requests.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
