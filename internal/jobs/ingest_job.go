package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestJobName is the name of the data lake refresh job
const IngestJobName = "ingest_refresh"

// Runner fetches the dataset and uploads it, returning the number of records uploaded.
type Runner interface {
	Run(ctx context.Context) (int, error)
}

// IngestJob refreshes the uploaded dataset on a schedule
type IngestJob struct {
	runner  Runner
	logger  *zap.Logger
	timeout time.Duration
}

// NewIngestJob creates a new refresh job.
// The timeout controls how long a single refresh is allowed to run.
func NewIngestJob(runner Runner, logger *zap.Logger, timeout time.Duration) *IngestJob {
	return &IngestJob{
		runner:  runner,
		logger:  logger,
		timeout: timeout,
	}
}

// Run executes one refresh. Failures are logged; the next scheduled run proceeds regardless.
func (j *IngestJob) Run() {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	logger := j.logger.With(zap.String("run_id", uuid.NewString()))
	start := time.Now()
	logger.Info("starting data lake refresh")

	records, err := j.runner.Run(ctx)
	if err != nil {
		logger.Error("data lake refresh failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	logger.Info("data lake refresh completed",
		zap.Int("records", records),
		zap.Duration("duration", time.Since(start)))
}

// RegisterIngestJob registers the refresh job with the scheduler.
// The cronExpr may use the 5-field or 6-field form (e.g. "0 0 6 * * *" for 06:00 every day).
func RegisterIngestJob(scheduler *Scheduler, runner Runner, logger *zap.Logger, cronExpr string, timeout time.Duration) error {
	job := NewIngestJob(runner, logger, timeout)
	return scheduler.AddJob(IngestJobName, cronExpr, job.Run)
}
