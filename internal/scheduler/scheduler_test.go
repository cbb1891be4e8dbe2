package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/pkg/logger"
)

type countingJob struct {
	name     string
	schedule string
	failures int32 // 처음 N번 실패
	calls    atomic.Int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }

func (j *countingJob) Run(ctx context.Context) error {
	n := j.calls.Add(1)
	if n <= j.failures {
		return errors.New("transient")
	}
	return nil
}

func newJob(name string, failures int32) *countingJob {
	return &countingJob{name: name, schedule: "0 0 3 * * *", failures: failures}
}

func TestAddJob(t *testing.T) {
	s := New(logger.Nop(), nil)

	require.NoError(t, s.AddJob(newJob("b", 0)))
	require.NoError(t, s.AddJob(newJob("a", 0)))
	assert.Error(t, s.AddJob(newJob("a", 0)), "duplicate name")

	bad := newJob("bad", 0)
	bad.schedule = "not a schedule"
	assert.Error(t, s.AddJob(bad))

	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	require.NoError(t, s.RemoveJob("a"))
	assert.Error(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
}

func TestRunJobRetries(t *testing.T) {
	tests := []struct {
		name     string
		failures int32
		success  bool
		attempts int
	}{
		{"first try", 0, true, 1},
		{"recovers on retry", 2, true, 3},
		{"gives up", 10, false, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(logger.Nop(), nil)
			s.SetRetry(3, time.Millisecond)
			job := newJob("job", tt.failures)
			require.NoError(t, s.AddJob(job))

			result, err := s.RunJob("job")
			require.NoError(t, err)
			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.attempts, result.Attempts)
			if !tt.success {
				assert.Equal(t, "transient", result.Error)
			}

			history, err := s.GetJobHistory("job")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, tt.success, history[0].Success)
		})
	}
}

func TestRunJobUnknown(t *testing.T) {
	s := New(logger.Nop(), nil)
	_, err := s.RunJob("missing")
	assert.Error(t, err)
	_, err = s.GetJobHistory("missing")
	assert.Error(t, err)
}

func TestGetJobStats(t *testing.T) {
	s := New(logger.Nop(), nil)
	s.SetRetry(0, 0)
	job := newJob("job", 1)
	require.NoError(t, s.AddJob(job))

	_, err := s.RunJob("job") // 실패
	require.NoError(t, err)
	_, err = s.RunJob("job") // 성공
	require.NoError(t, err)

	stats := s.GetJobStats()["job"]
	assert.Equal(t, "0 0 3 * * *", stats.Schedule)
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	require.NotNil(t, stats.LastRun)
	assert.NotNil(t, stats.LastSuccess)
	assert.Nil(t, stats.LastFailure)
}

func TestStopInterruptsRetryWait(t *testing.T) {
	s := New(logger.Nop(), nil)
	s.SetRetry(3, time.Hour)
	require.NoError(t, s.AddJob(newJob("job", 10)))

	done := make(chan JobResult, 1)
	go func() {
		r, _ := s.RunJob("job")
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case r := <-done:
		assert.False(t, r.Success)
		assert.Equal(t, 1, r.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("retry wait was not interrupted")
	}
}

func TestJobHistoryBounded(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < historySize+10; i++ {
		h.AddResult(JobResult{Success: i%2 == 0})
	}
	assert.Len(t, h.Results, historySize)
	assert.Len(t, h.GetLatestResults(5), 5)
	assert.Len(t, h.GetLatestResults(1000), historySize)
	assert.InDelta(t, 0.5, h.GetSuccessRate(), 1e-9)
	assert.Equal(t, 0.0, (&JobHistory{}).GetSuccessRate())
}

func TestDelayQueueRuns(t *testing.T) {
	q := NewDelayQueue(logger.Nop())
	defer q.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var ran atomic.Bool
	q.After("job", time.Millisecond, func(ctx context.Context) {
		ran.Store(true)
		wg.Done()
	})

	wg.Wait()
	assert.True(t, ran.Load())
	assert.Eventually(t, func() bool { return len(q.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDelayQueueReplacesSameName(t *testing.T) {
	q := NewDelayQueue(logger.Nop())
	defer q.Stop()

	var first, second atomic.Int32
	done := make(chan struct{})
	q.After("job", time.Hour, func(ctx context.Context) { first.Add(1) })
	q.After("job", time.Millisecond, func(ctx context.Context) {
		second.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement job did not run")
	}
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestDelayQueueStopDropsPending(t *testing.T) {
	q := NewDelayQueue(logger.Nop())

	var ran atomic.Bool
	q.After("a", time.Hour, func(ctx context.Context) { ran.Store(true) })
	q.After("b", time.Hour, func(ctx context.Context) { ran.Store(true) })
	assert.Equal(t, []string{"a", "b"}, q.Pending())

	q.Stop()
	assert.Empty(t, q.Pending())

	// 정지 후 등록은 무시
	q.After("c", time.Millisecond, func(ctx context.Context) { ran.Store(true) })
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Empty(t, q.Pending())

	q.Stop() // idempotent
}

func TestDelayQueueStopCancelsRunningJob(t *testing.T) {
	q := NewDelayQueue(logger.Nop())

	started := make(chan struct{})
	var cancelled atomic.Bool
	q.After("slow", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})

	<-started
	q.Stop()
	assert.True(t, cancelled.Load())
}
