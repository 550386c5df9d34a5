package storage

import "time"

// Config selects the backend. Driver is "file" (JSON Lines journals derived
// from Path), "sqlite" (a database at Path) or "none"/empty (disabled).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	OpenTimeout time.Duration // sqlite only; total retry budget for open, 0 means 10s
}

// AuditEntry records the outcome of one delivery attempt.
type AuditEntry struct {
	At       time.Time `json:"at"`
	IssueID  string    `json:"issue_id"`
	IssueKey string    `json:"issue_key"`
	Chat     string    `json:"chat"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
