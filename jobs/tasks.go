package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverrideIntegrity scans permission overrides for orphaned rows.
	TaskOverrideIntegrity = "authz:override_integrity"
	// TaskSessionSweep prunes expired session records.
	TaskSessionSweep = "auth:session_sweep"
)

// OverrideIntegrityPayload configures the override integrity scan.
type OverrideIntegrityPayload struct {
	// Prune removes offending rows instead of only reporting them.
	Prune bool `json:"prune"`
}

// NewOverrideIntegrityTask constructs an Asynq task for the integrity scan.
func NewOverrideIntegrityTask(prune bool) (*asynq.Task, error) {
	data, err := json.Marshal(OverrideIntegrityPayload{Prune: prune})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverrideIntegrity, data), nil
}

// NewSessionSweepTask constructs an Asynq task for the session sweep.
func NewSessionSweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskSessionSweep, nil), nil
}
