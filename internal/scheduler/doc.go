// Package scheduler triggers the poll cycle.
//
// One job is registered per Service. It runs once immediately on Start and
// then on the configured schedule. Runs never overlap: a tick that fires
// while the previous run is still in flight is skipped and counted.
package scheduler
