// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/runs/:id/ws to receive the run and step
// events of one flight run as they happen.
package websocket
