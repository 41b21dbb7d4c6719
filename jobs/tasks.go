package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile compares stored customer debt with the orders behind it.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskReportsWarmup precomputes the dashboard reports.
	TaskReportsWarmup = "reports:warmup"
	// TaskIdempotencyCleanup purges old payment idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerReconcilePayload narrows a reconciliation run. A zero CustomerID
// scans every customer.
type LedgerReconcilePayload struct {
	CustomerID int64 `json:"customer_id,omitempty"`
}

// ReportsWarmupPayload is reserved for future scoping; it carries no fields yet.
type ReportsWarmupPayload struct{}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the configured retention, defaulting to seven days.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewLedgerReconcileTask constructs a reconciliation task.
func NewLedgerReconcileTask(customerID int64) (*asynq.Task, error) {
	return newTask(TaskLedgerReconcile, LedgerReconcilePayload{CustomerID: customerID})
}

// NewReportsWarmupTask constructs a report warmup task.
func NewReportsWarmupTask() (*asynq.Task, error) {
	return newTask(TaskReportsWarmup, ReportsWarmupPayload{})
}

// NewIdempotencyCleanupTask constructs a key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
}

func newTask(typeName string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typeName, data), nil
}
