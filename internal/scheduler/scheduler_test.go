package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/orchestrator"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls chan string
}

func (f *fakeSubmitter) ProcessIntent(_ context.Context, text string, _ ai.Preference) (*orchestrator.Task, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	err := f.err
	f.mu.Unlock()

	if f.calls != nil {
		f.calls <- text
	}
	if err != nil {
		return nil, err
	}
	return &orchestrator.Task{ID: "task-1", Status: orchestrator.StatusCompleted}, nil
}

func TestAddAndTrigger(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub, nil)

	require.NoError(t, s.Add(Job{Name: "time", Spec: "@hourly", Intent: `{"action":"system.time"}`}))

	task, err := s.Trigger(context.Background(), "time")
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, []string{`{"action":"system.time"}`}, sub.texts)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].RunCount)
	assert.Equal(t, "task-1", jobs[0].LastTask)
	assert.Empty(t, jobs[0].LastError)
}

func TestTriggerRecordsFailure(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("backend down")}
	s := New(sub, nil)
	require.NoError(t, s.Add(Job{Name: "x", Spec: "@daily", Intent: "summarise"}))

	_, err := s.Trigger(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, "backend down", s.Jobs()[0].LastError)

	_, err = s.Trigger(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestAddValidation(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)
	assert.Error(t, s.Add(Job{Name: "bad", Spec: "not a spec", Intent: "x"}))
	assert.Error(t, s.Add(Job{Name: "empty", Spec: "@hourly"}))
	assert.Empty(t, s.Jobs())
}

func TestSetReplacesJobs(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)
	require.NoError(t, s.Add(Job{Name: "old", Spec: "@hourly", Intent: "x"}))

	err := s.Set([]Job{
		{Name: "b", Spec: "@daily", Intent: "y"},
		{Name: "a", Spec: "*/5 * * * *", Intent: "z"},
		{Name: "broken", Spec: "???", Intent: "z"},
	})
	assert.Error(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
}

func TestScheduledRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	sub := &fakeSubmitter{calls: make(chan string, 4)}
	s := New(sub, nil)
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Intent: "tick"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case text := <-sub.calls:
		assert.Equal(t, "tick", text)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire")
	}

	cancel()
	require.NoError(t, <-done)
}
