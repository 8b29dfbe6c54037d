// Package orchestrator implements the flight processing pipeline.
//
// The orchestrator manager coordinates processing by:
//   - Validating flight submissions
//   - Building and validating the step graph for each flight
//   - Executing the graph on the shared worker pool
//   - Publishing run and step events to the event bus
//   - Persisting run reports via the run store
//
// Batches run with bounded parallelism and report how many flights ended
// valid, with warnings or with errors.
package orchestrator
