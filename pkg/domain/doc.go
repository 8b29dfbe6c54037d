// Package domain contains the types shared by every layer of flight processing.
//
// A Flight is the data context that compute steps read from and write to. A Step
// is the declarative unit of work: the columns it needs, the columns it
// produces, whether it is required, and how to compute it. RunResult and
// RunReport describe the outcome of executing a set of steps against a flight.
package domain
