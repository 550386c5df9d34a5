package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "jiranotify/pkg/logx"
)

func hourly(t *testing.T) Spec {
	t.Helper()
	sp, err := Parse("1h")
	require.NoError(t, err)
	return sp
}

func TestStartRunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(func(context.Context) { ran <- struct{}{} }, logx.Nop())
	require.NoError(t, s.Start(context.Background(), hourly(t)))
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run on start")
	}
	st := s.Stats()
	assert.Equal(t, "every 1h0m0s", st.Spec)
	assert.False(t, st.Next.IsZero())
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	s := New(func(context.Context) {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
	}, logx.Nop())
	require.NoError(t, s.Start(context.Background(), hourly(t)))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not start")
	}
	s.tick()
	s.tick()

	st := s.Stats()
	assert.Equal(t, uint64(2), st.Skipped)
	assert.Equal(t, uint64(1), st.Runs)
	assert.True(t, st.Running)

	close(release)
	s.Stop(context.Background())
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, s.Stats().Running)
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s := New(func(context.Context) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}, logx.Nop())
	require.NoError(t, s.Start(context.Background(), hourly(t)))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, finished.Load())

	// ticks after Stop are ignored
	s.tick()
	assert.Equal(t, uint64(1), s.Stats().Runs)
}

func TestStopCancelsRunAfterDeadline(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	s := New(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}, logx.Nop())
	require.NoError(t, s.Start(context.Background(), hourly(t)))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("run context was not canceled")
	}
}

func TestJobPanicIsRecovered(t *testing.T) {
	done := make(chan struct{})
	s := New(func(context.Context) {
		defer close(done)
		panic("boom")
	}, logx.Nop())
	require.NoError(t, s.Start(context.Background(), hourly(t)))
	defer s.Stop(context.Background())

	<-done
	require.Eventually(t, func() bool { return !s.Stats().Running }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), s.Stats().Runs)
}

func TestReschedule(t *testing.T) {
	s := New(func(context.Context) {}, logx.Nop())
	require.Error(t, s.Reschedule(hourly(t)), "not started")

	require.NoError(t, s.Start(context.Background(), hourly(t)))
	defer s.Stop(context.Background())

	sp, err := Parse("*/5 * * * *")
	require.NoError(t, err)
	require.NoError(t, s.Reschedule(sp))
	assert.Equal(t, "cron */5 * * * *", s.Stats().Spec)

	require.Error(t, s.Reschedule(Spec{Kind: KindCron, Cron: "not a cron"}))
	assert.Equal(t, "cron */5 * * * *", s.Stats().Spec)
}

func TestStartErrors(t *testing.T) {
	s := New(func(context.Context) {}, logx.Nop())
	require.Error(t, s.Start(context.Background(), Spec{Kind: KindCron, Cron: "61 * * * *"}))

	require.NoError(t, s.Start(context.Background(), hourly(t)))
	defer s.Stop(context.Background())
	require.Error(t, s.Start(context.Background(), hourly(t)))

	require.Error(t, New(nil, logx.Nop()).Start(context.Background(), hourly(t)))
}

func TestCronEvaluatedInLocation(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*60*60)
	s := New(func(context.Context) {}, logx.Nop(), WithLocation(zone), WithLocation(nil))
	assert.Same(t, zone, s.loc)

	sp, err := Parse("cron:30 9 * * *")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), sp))
	defer s.Stop(context.Background())

	next := s.Stats().Next.In(zone)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestStartUsesExactInterval(t *testing.T) {
	s := New(func(context.Context) {}, logx.Nop())
	sp, err := Parse("1m30.5s")
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, s.Start(context.Background(), sp))
	defer s.Stop(context.Background())
	after := time.Now()

	next := s.Stats().Next
	assert.False(t, next.Before(before.Add(90500*time.Millisecond)), "next = %s", next)
	assert.False(t, next.After(after.Add(90500*time.Millisecond)), "next = %s", next)
}
