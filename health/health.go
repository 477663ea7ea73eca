// Package health tracks the inspector service's liveness: when the session
// was last rebuilt, how many queries were served, and whether rebuilds are
// failing. Atomic counters only; safe to poke from request handlers.
package health

import (
	"sync/atomic"
	"time"
)

// Monitor is the shared liveness state of a running inspector.
type Monitor struct {
	lastRebuild  atomic.Int64 // Unix seconds of last successful session build
	rebuildFails atomic.Uint64
	queries      atomic.Uint64
}

// NewMonitor returns a Monitor stamped with the current time.
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.lastRebuild.Store(time.Now().Unix())
	return m
}

// RecordRebuild notes a successful session rebuild.
func (m *Monitor) RecordRebuild() {
	m.lastRebuild.Store(time.Now().Unix())
}

// RecordRebuildFailure notes a rebuild that could not replace the session.
func (m *Monitor) RecordRebuildFailure() {
	m.rebuildFails.Add(1)
}

// RecordQuery notes one served query.
func (m *Monitor) RecordQuery() {
	m.queries.Add(1)
}

// LastRebuild returns the time of the last successful session build.
func (m *Monitor) LastRebuild() time.Time {
	return time.Unix(m.lastRebuild.Load(), 0)
}

// QueryCount returns the total number of served queries.
func (m *Monitor) QueryCount() uint64 {
	return m.queries.Load()
}

// RebuildFailures returns the number of failed rebuilds.
func (m *Monitor) RebuildFailures() uint64 {
	return m.rebuildFails.Load()
}
