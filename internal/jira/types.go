package jira

import (
	"strings"
	"time"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the subset of issue fields the notifier requests.
type IssueFields struct {
	Summary  string         `json:"summary"`
	Creator  *UserField     `json:"creator"`
	Labels   []string       `json:"labels"`
	Priority *PriorityField `json:"priority"`
	Created  string         `json:"created"`
}

// PriorityField represents a Jira issue priority.
type PriorityField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserField represents a Jira user.
type UserField struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// searchPage is one page of the enhanced JQL search endpoint.
type searchPage struct {
	Issues        []Issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken"`
	IsLast        bool    `json:"isLast"`
}

// jiraTimeLayout is the timestamp format Jira uses for created/updated.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// ParseTimestamp parses a Jira timestamp, falling back to RFC3339.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(jiraTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
