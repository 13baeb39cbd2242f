package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeExpirer struct {
	expired  int
	err      error
	calls    int
	deadline bool
}

func (f *fakeExpirer) ExpireQuotations(ctx context.Context) (int, error) {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return f.expired, f.err
}

func TestScheduler_AddAndRemove(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	require.NoError(t, s.AddJob(QuotationExpiryJobName, "0 */15 * * * *", func() {}))
	assert.Equal(t, []string{QuotationExpiryJobName}, s.GetJobNames())

	err := s.AddJob(QuotationExpiryJobName, "@every 1m", func() {})
	assert.ErrorContains(t, err, "already exists")

	err = s.AddJob("broken", "not a cron", func() {})
	assert.Error(t, err)

	require.NoError(t, s.RemoveJob(QuotationExpiryJobName))
	assert.Empty(t, s.GetJobNames())
	assert.Error(t, s.RemoveJob(QuotationExpiryJobName))
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddJob("tick", "@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}

func TestQuotationExpiryJob_Run(t *testing.T) {
	t.Run("logs the expired count", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		expirer := &fakeExpirer{expired: 3}
		NewQuotationExpiryJob(expirer, zap.New(core), time.Minute).Run()

		assert.Equal(t, 1, expirer.calls)
		assert.True(t, expirer.deadline)
		entries := logs.FilterMessage("quotation expiry sweep completed").All()
		require.Len(t, entries, 1)
		assert.EqualValues(t, 3, entries[0].ContextMap()["expired"])
	})

	t.Run("logs failures", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		expirer := &fakeExpirer{err: errors.New("database is gone")}
		NewQuotationExpiryJob(expirer, zap.New(core), time.Minute).Run()

		assert.Equal(t, 1, logs.FilterMessage("quotation expiry sweep failed").Len())
	})
}
