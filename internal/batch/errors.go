package batch

import "errors"

var (
	// ErrUnresolvedID marks an identifier that no longer maps to a live entity.
	ErrUnresolvedID = errors.New("identifier does not resolve to a live entity")
	// ErrNoScheduler is returned when the aggregator was built without a task scheduler.
	ErrNoScheduler = errors.New("no flush scheduler configured")
)
