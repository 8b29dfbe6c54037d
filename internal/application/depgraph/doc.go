// Package depgraph turns a flat list of compute steps into a dependency graph
// and executes it.
//
// Steps declare the columns they require and the columns they produce. Build
// indexes producers by column, rejects two steps claiming the same column, and
// wires an edge from each producer to every step requiring one of its columns.
// A synthetic source node produces the columns already present in the flight.
//
// Validate rejects cycles and required steps that depend on optional ones.
//
// Engine.Execute runs the graph: every node is scheduled exactly once, waits
// for all of its dependencies, and then runs on a bounded worker pool. A node
// that is inapplicable or fails disables its whole dependent subtree without
// affecting unrelated branches. Captured errors are aggregated into a
// domain.RunResult once every node has finished.
package depgraph
