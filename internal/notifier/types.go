package notifier

import "time"

// Config controls the async delivery pipeline.
type Config struct {
	Workers        int
	QueueSize      int
	RatePerSec     int
	SendTimeout    time.Duration
	DisablePreview bool
}

// Outcome is the result of one delivery attempt. It is published on the
// event bus as the Data of notifier.* events.
type Outcome struct {
	IssueID  string        `json:"issue_id"`
	IssueKey string        `json:"issue_key"`
	Chat     string        `json:"chat"`
	At       time.Time     `json:"at"`
	Took     time.Duration `json:"took"`
	Err      error         `json:"-"`
}

func (o Outcome) OK() bool { return o.Err == nil }

// Stats are cumulative delivery counters.
type Stats struct {
	Queued  uint64
	Sent    uint64
	Failed  uint64
	Dropped uint64
	LastAt  time.Time
}
