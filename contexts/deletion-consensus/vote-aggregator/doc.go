// Package voteaggregator implements the ballot store and decision state
// machine of the deletion consensus workflow.
//
// The module owns ballot lifecycle orchestration (open/vote/cancel/timeout),
// the veto-first decision policy for destructive operations, and decision
// event production through outbox-backed workers. It keeps business rules in
// application/domain layers and isolates infrastructure concerns behind ports
// and adapters.
package voteaggregator
