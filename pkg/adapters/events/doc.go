// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, with consumer groups for work topics and plain reads for broadcast topics
//   - memory: In-memory fan-out for tests and single-process runs
package events
