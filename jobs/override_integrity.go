package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-erp/keystone-erp/internal/authz"
)

// OverrideIntegrityJob finds override rows that reference users that no
// longer exist or permissions that left the catalog. Such rows are inert for
// resolution but clutter audit views; the scan reports them and can prune.
type OverrideIntegrityJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOverrideIntegrityJob constructs the job.
func NewOverrideIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *OverrideIntegrityJob {
	return &OverrideIntegrityJob{pool: pool, logger: logger}
}

// Handle processes TaskOverrideIntegrity tasks.
func (j *OverrideIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OverrideIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	return j.Run(ctx, payload.Prune)
}

// Run executes one scan.
func (j *OverrideIntegrityJob) Run(ctx context.Context, prune bool) error {
	orphaned, err := j.orphanedUserRows(ctx)
	if err != nil {
		return err
	}
	unknown, err := j.unknownPermissionRows(ctx)
	if err != nil {
		return err
	}

	if j.logger != nil {
		j.logger.Info("override integrity scan",
			slog.Int("orphaned_user_rows", orphaned),
			slog.Int("unknown_permission_rows", unknown),
			slog.Bool("prune", prune),
		)
	}
	if !prune || (orphaned == 0 && unknown == 0) {
		return nil
	}

	if _, err := j.pool.Exec(ctx, `DELETE FROM permission_overrides po WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = po.user_id)`); err != nil {
		return err
	}
	_, err = j.pool.Exec(ctx, `DELETE FROM permission_overrides WHERE permission != ALL($1)`, permissionNames())
	return err
}

func (j *OverrideIntegrityJob) orphanedUserRows(ctx context.Context) (int, error) {
	var count int
	err := j.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permission_overrides po WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = po.user_id)`).Scan(&count)
	return count, err
}

func (j *OverrideIntegrityJob) unknownPermissionRows(ctx context.Context) (int, error) {
	var count int
	err := j.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permission_overrides WHERE permission != ALL($1)`, permissionNames()).Scan(&count)
	return count, err
}

func permissionNames() []string {
	perms := authz.AllPermissions()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return names
}
