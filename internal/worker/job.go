package worker

import "context"

type JobType int

const (
	Run JobType = iota
	Stop
)

// Task is the work carried by a job. ctx is cancelled when the dispatcher shuts down.
type Task func(ctx context.Context)

type Job struct {
	Type      JobType
	SessionID string
	Task      Task
	// Dropped is called instead of Task when the dispatcher stops before the job runs.
	Dropped func(err error)
}
