// Package retrain runs the external training procedure in the background
// whenever ground truth labels change.
package retrain

import (
	"context"
	"time"

	"github.com/tphakala/foodnet-go/internal/errors"
)

// Common errors returned by the trigger.
var (
	ErrNilAction      = errors.NewStd("retrain action is required")
	ErrTriggerStopped = errors.NewStd("retrain trigger is not running")
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a point-in-time copy of a retrain job.
type Job struct {
	ID         string        `json:"id"`
	Status     Status        `json:"status"`
	Reasons    []string      `json:"reasons"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Stats counts requests and job outcomes since start.
type Stats struct {
	Requested int  `json:"requested"`
	Coalesced int  `json:"coalesced"`
	Dropped   int  `json:"dropped"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Cancelled int  `json:"cancelled"`
	Pending   int  `json:"pending"`
	Running   bool `json:"running"`
}

// Action is the work performed by a job.
type Action interface {
	Run(ctx context.Context, job Job) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, job Job) error

// Run implements Action.
func (f ActionFunc) Run(ctx context.Context, job Job) error {
	return f(ctx, job)
}
