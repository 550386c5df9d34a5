// Package watch holds the change-detection state of the notifier: the set
// of issue ids already observed and the warm-up phase.
//
// The first completed cycle only records what is already open (the backlog)
// and never notifies. Every later cycle dispatches one delivery per id that
// has not been seen before and records the id whether or not the delivery
// succeeded, so an issue is attempted at most once per process lifetime.
package watch
