package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddJobValidation(t *testing.T) {
	s := CreateScheduler()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddJob(Job{Name: "evaluate-alerts", Schedule: "0 */5 * * * *", Run: noop}))
	assert.Error(t, s.AddJob(Job{Name: "evaluate-alerts", Schedule: "0 */5 * * * *", Run: noop}))
	assert.Error(t, s.AddJob(Job{Name: "bad", Schedule: "every five minutes", Run: noop}))
	assert.Error(t, s.AddJob(Job{Name: "", Schedule: "* * * * * *", Run: noop}))
	assert.Error(t, s.AddJob(Job{Name: "no-run", Schedule: "* * * * * *"}))
}

func TestScheduler_RunNowTracksStats(t *testing.T) {
	s := CreateScheduler()
	fail := errors.New("store unavailable")
	calls := 0

	require.NoError(t, s.AddJob(Job{
		Name:     "purge-rate-limits",
		Schedule: "0 0 * * * *",
		Run: func(ctx context.Context) error {
			calls++
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			if calls == 2 {
				return fail
			}
			return nil
		},
	}))

	require.NoError(t, s.RunNow("purge-rate-limits"))
	assert.ErrorIs(t, s.RunNow("purge-rate-limits"), fail)
	assert.Error(t, s.RunNow("missing"))

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Runs)
	assert.Equal(t, int64(1), stats[0].Failures)
	assert.Equal(t, "store unavailable", stats[0].LastError)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := CreateScheduler()
	var runs int64
	require.NoError(t, s.AddJob(Job{
		Name:     "tick",
		Schedule: "* * * * * *",
		Run: func(context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		},
	}))

	s.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&runs) >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
