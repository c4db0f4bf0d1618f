// Package base provides base implementation for scheduler jobs.
package base

import (
	"sync"
	"time"
)

// RunStatus describes the outcome of a job's most recent execution
type RunStatus struct {
	LastRun  time.Time     `json:"last_run"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
}

// JobBase tracks run history for a job.
// Jobs embed this so the scheduler can report their status.
type JobBase struct {
	mu     sync.Mutex
	status RunStatus
}

// RecordRun stores the result of one execution
func (j *JobBase) RecordRun(startedAt time.Time, duration time.Duration, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status.LastRun = startedAt
	j.status.Duration = duration
	j.status.Runs++
	j.status.Error = ""
	if err != nil {
		j.status.Error = err.Error()
		j.status.Failures++
	}
}

// Status returns a snapshot of the run history
func (j *JobBase) Status() RunStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}
