// Package workers implements the bounded worker pool that runs step computations.
//
// The pool manages a fixed number of goroutines that:
//   - Receive jobs over an unbuffered channel
//   - Run each job to completion and release the submitter
//   - Survive panics raised by a job
//
// Submitters block until their job has run, so callers that only wait on
// other work (such as graph tasks joining their dependencies) never occupy
// a worker. The health monitor tracks worker status and records metrics.
package workers
