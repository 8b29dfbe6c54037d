// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Flight submission, batch processing and execution plans
//   - Run report queries and cancellation
//   - Health checks
//   - Prometheus metrics
package http
