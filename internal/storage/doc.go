// Package storage is the optional persistence layer.
//
// It keeps two things across restarts:
//   - the ids of issues already seen (so the next start does not re-warm)
//   - an append-only audit log of delivery outcomes
//
// Storage is off by default; Open returns (nil, nil) for driver "none".
package storage
