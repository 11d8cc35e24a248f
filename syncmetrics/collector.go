// Package syncmetrics provides observability hooks for the sync engine.
package syncmetrics

import "time"

// Collector provides hooks for observability.
type Collector interface {
	// RecordPush records the outcome and duration of one push attempt
	RecordPush(collection, outcome string, d time.Duration)

	// RecordPull records how many deltas a pull pass applied
	RecordPull(collection string, deltas int, d time.Duration)

	// RecordConflict records a conflict resolution decision
	RecordConflict(collection, decision string)

	// RecordQueueDepth records the pending mutation count for a collection
	RecordQueueDepth(collection string, depth int)

	// RecordAbandonment records a mutation moved to the abandoned list
	RecordAbandonment(collection string)
}

// NoOp is a stub implementation that discards metrics.
type NoOp struct{}

func (*NoOp) RecordPush(collection, outcome string, d time.Duration)    {}
func (*NoOp) RecordPull(collection string, deltas int, d time.Duration) {}
func (*NoOp) RecordConflict(collection, decision string)                {}
func (*NoOp) RecordQueueDepth(collection string, depth int)             {}
func (*NoOp) RecordAbandonment(collection string)                       {}
