package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name  string
	calls atomic.Int32
}

func (t *countingTask) Name() string { return t.name }

func (t *countingTask) Run(ctx context.Context) error {
	t.calls.Add(1)
	return ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCronSchedulerRunsTaskEverySecond(t *testing.T) {
	s := NewCronScheduler(testLogger(), time.Second)
	task := &countingTask{name: "tick"}
	require.NoError(t, s.AddTask("* * * * * *", task))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return task.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestCronSchedulerRejectsBadSpec(t *testing.T) {
	s := NewCronScheduler(testLogger(), 0)
	assert.Error(t, s.AddTask("not a cron spec", &countingTask{name: "bad"}))
}

func TestCronSchedulerRemoveTask(t *testing.T) {
	s := NewCronScheduler(testLogger(), 0).(*cronScheduler)
	task := &countingTask{name: "tick"}

	require.NoError(t, s.AddTask("*/5 * * * * *", task))
	require.NoError(t, s.AddTask("*/10 * * * * *", task))
	assert.Len(t, s.tasks, 1, "re-adding a task replaces its entry")
	assert.Len(t, s.cron.Entries(), 1)

	require.NoError(t, s.RemoveTask("tick"))
	require.NoError(t, s.RemoveTask("unknown"))
	assert.Empty(t, s.tasks)
	assert.Empty(t, s.cron.Entries())
}
