package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keystone-erp/keystone-erp/internal/auth"
)

// SessionSweepJob prunes expired session rows from Postgres. The Redis copies
// expire on their own; the audit rows do not.
type SessionSweepJob struct {
	repo   auth.Repository
	logger *slog.Logger
}

// NewSessionSweepJob constructs the job.
func NewSessionSweepJob(repo auth.Repository, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{repo: repo, logger: logger}
}

// Handle processes TaskSessionSweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	removed, err := j.repo.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	if j.logger != nil {
		j.logger.Info("session sweep", slog.Int64("removed", removed))
	}
	return nil
}
