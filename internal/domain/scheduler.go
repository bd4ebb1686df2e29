package domain

import "context"

// Task is a unit of periodic background work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs tasks on cron schedules.
type Scheduler interface {
	// Start runs scheduled tasks until ctx is done.
	Start(ctx context.Context) error

	AddTask(spec string, task Task) error
	RemoveTask(name string) error
}
