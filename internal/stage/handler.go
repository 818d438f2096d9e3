package stage

import (
	"context"

	"reelsmith/internal/jobs"
)

// Handler describes the contract the workflow manager needs from each stage.
// Execute mutates the job record in place; a nil error means the stage is
// done and the job may advance.
type Handler interface {
	Prepare(context.Context, *jobs.Job) error
	Execute(context.Context, *jobs.Job) error
	HealthCheck(context.Context) Health
}

// Compensator is implemented by stages that must undo partial work after a
// failed attempt, such as deleting half-finished downloads.
type Compensator interface {
	Compensate(ctx context.Context, job *jobs.Job, cause error) error
}

// Store is the slice of the job store a stage uses while it runs.
type Store interface {
	Save(ctx context.Context, job *jobs.Job) (*jobs.Job, error)
	IsCancelled(ctx context.Context, id string) (bool, error)
}
