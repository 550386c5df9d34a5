package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiranotify/internal/jira"
	logx "jiranotify/pkg/logx"
)

type fakeSource struct {
	issues []jira.Issue
	err    error
	panic  bool
	block  bool
	jql    string
}

func (f *fakeSource) SearchIssues(ctx context.Context, jql string) ([]jira.Issue, error) {
	f.jql = jql
	if f.panic {
		panic("source exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.issues, f.err
}

func TestFetchMapsIssuesInOrder(t *testing.T) {
	src := &fakeSource{issues: []jira.Issue{
		{ID: "20", Key: "TB-20", Fields: jira.IssueFields{
			Summary:  "newest",
			Creator:  &jira.UserField{DisplayName: "Ann"},
			Labels:   []string{"ui", "urgent"},
			Priority: &jira.PriorityField{Name: "High"},
			Created:  "2024-05-02T08:30:00.000+0000",
		}},
		{ID: "", Key: "TB-0"},
		{ID: "10", Key: "TB-10", Fields: jira.IssueFields{Summary: "older"}},
	}}
	p := New(src, Filter{Project: "TB", Status: "To Do"}, time.Second, logx.Nop())

	got := p.Fetch(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, `project = "TB" AND status = "To Do" ORDER BY created DESC`, src.jql)

	assert.Equal(t, Issue{
		ID: "20", Key: "TB-20", Summary: "newest", Creator: "Ann",
		Labels: []string{"ui", "urgent"}, Priority: "High",
		Created: time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
	}, normalize(got[0]))
	assert.Equal(t, "10", got[1].ID)
	assert.Empty(t, got[1].Creator)
	assert.Empty(t, got[1].Priority)
	assert.Empty(t, got[1].Labels)
}

func TestFetchFailureLooksLikeNoIssues(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{name: "error", src: &fakeSource{err: errors.New("401 unauthorized")}},
		{name: "panic", src: &fakeSource{panic: true}},
		{name: "timeout", src: &fakeSource{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.src, Filter{Project: "TB", Status: "To Do"}, 20*time.Millisecond, logx.Nop())
			got := p.Fetch(context.Background())
			require.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func normalize(is Issue) Issue {
	is.Created = is.Created.UTC()
	return is
}

func TestQuerySurfacesErrors(t *testing.T) {
	p := New(&fakeSource{err: errors.New("401 unauthorized")}, Filter{Project: "TB", Status: "To Do"}, time.Second, logx.Nop())
	_, err := p.Query(context.Background())
	require.EqualError(t, err, "401 unauthorized")

	p = New(&fakeSource{panic: true}, Filter{}, time.Second, logx.Nop())
	_, err = p.Query(context.Background())
	require.ErrorContains(t, err, "issue source panicked")
}

func TestQueryKeepsTruncatedResults(t *testing.T) {
	src := &fakeSource{
		issues: []jira.Issue{{ID: "2", Key: "TB-2"}, {ID: "1", Key: "TB-1"}},
		err:    fmt.Errorf("%w (2 issues in 1 pages)", jira.ErrTruncated),
	}
	p := New(src, Filter{Project: "TB", Status: "To Do"}, time.Second, logx.Nop())
	got, err := p.Query(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
}
