// Package api implements the optional HTTP status API for heatpump-link.
//
// This package provides:
//   - GET /api/v1/health: liveness plus MQTT and serial line state
//   - GET /api/v1/status: runtime, MQTT, serial and poller statistics
//   - GET /api/v1/values: the last poll cycle keyed by topic
//   - GET /api/v1/values/{name}: one value from the last poll cycle
//   - GET /api/v1/ws: WebSocket stream of completed poll cycles
//   - GET /metrics: Prometheus exposition
//   - Middleware stack (request ID, logging, recovery)
//
// The API is read-only. Values are served from the poller's last cycle;
// no request ever touches the serial line.
package api
