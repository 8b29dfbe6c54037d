// Package storage provides run report storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory for tests and single-process runs
package storage
