// Package workflowtracker folds deletion lifecycle events into a polled
// progress projection. The projection is derived state only and can be
// rebuilt by replaying the event log.
package workflowtracker
