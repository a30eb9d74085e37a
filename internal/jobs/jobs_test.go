package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/straye-as/sports-datalake/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	records     int
	err         error
	calls       atomic.Int32
	hadDeadline atomic.Bool
}

func (f *fakeRunner) Run(ctx context.Context) (int, error) {
	f.calls.Add(1)
	_, ok := ctx.Deadline()
	f.hadDeadline.Store(ok)
	return f.records, f.err
}

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "0 6 * * *"},
		{expr: "0 0 6 * * *"},
		{expr: "@daily"},
		{expr: "@every 6h"},
		{expr: "", wantErr: true},
		{expr: "not a cron", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := jobs.ValidateCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_AddAndRemoveJob(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	require.NoError(t, s.AddJob("b", "@hourly", func() {}))
	require.NoError(t, s.AddJob("a", "0 6 * * *", func() {}))
	assert.Equal(t, []string{"a", "b"}, s.JobNames())

	err := s.AddJob("a", "@daily", func() {})
	assert.Error(t, err)

	require.NoError(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.JobNames())
	assert.Error(t, s.RemoveJob("a"))
}

func TestScheduler_InvalidExpression(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	err := s.AddJob("bad", "every now and then", func() {})

	assert.Error(t, err)
	assert.Empty(t, s.JobNames())
}

func TestScheduler_RunsJob(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())
	ran := make(chan struct{}, 1)

	require.NoError(t, s.AddJob("tick", "@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))

	s.Start()
	defer func() { <-s.Stop().Done() }()

	next, ok := s.NextRun("tick")
	assert.True(t, ok)
	assert.False(t, next.IsZero())

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}

func TestScheduler_NextRunUnknownJob(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	_, ok := s.NextRun("missing")

	assert.False(t, ok)
}

func TestIngestJob_Run(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	runner := &fakeRunner{records: 42}
	job := jobs.NewIngestJob(runner, zap.New(core), time.Minute)

	job.Run()

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.True(t, runner.hadDeadline.Load())

	completed := logs.FilterMessage("data lake refresh completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	assert.Equal(t, int64(42), fields["records"])
	assert.NotEmpty(t, fields["run_id"])
}

func TestIngestJob_RunFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	runner := &fakeRunner{err: errors.New("upload failed")}
	job := jobs.NewIngestJob(runner, zap.New(core), 0)

	job.Run()

	assert.False(t, runner.hadDeadline.Load())
	assert.Equal(t, 1, logs.FilterMessage("data lake refresh failed").Len())
	assert.Zero(t, logs.FilterMessage("data lake refresh completed").Len())
}

func TestRegisterIngestJob(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	require.NoError(t, jobs.RegisterIngestJob(s, &fakeRunner{}, zap.NewNop(), "0 0 6 * * *", time.Minute))
	assert.Equal(t, []string{jobs.IngestJobName}, s.JobNames())

	err := jobs.RegisterIngestJob(s, &fakeRunner{}, zap.NewNop(), "0 0 6 * * *", time.Minute)
	assert.Error(t, err)
}
