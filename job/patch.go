package job

import (
	"encoding/json"
	"slices"
	"time"
)

// Patch is a partial update applied by Store.UpdateJob. Nil or zero
// fields are left unchanged. When Expect is set the update only applies
// if the stored status still equals Expect; otherwise the store returns
// outbox.ErrStaleState.
type Patch struct {
	Expect    Status
	Status    Status
	Attempts  *int
	NextRunAt *time.Time
	Error     *string
	Result    json.RawMessage
}

// Apply mutates j in place and touches UpdatedAt.
func (p Patch) Apply(j *Job, now time.Time) {
	if p.Status != "" {
		j.Status = p.Status
	}
	if p.Attempts != nil {
		j.Attempts = *p.Attempts
	}
	if p.NextRunAt != nil {
		j.NextRunAt = p.NextRunAt.UTC()
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.Result != nil {
		j.Result = slices.Clone(p.Result)
	}
	j.Touch(now)
}

// Claim moves a queued job to running.
func Claim() Patch {
	return Patch{Expect: StatusQueued, Status: StatusRunning}
}

// Unclaim hands a claimed job back to the queue without touching its
// attempts.
func Unclaim() Patch {
	return Patch{Expect: StatusRunning, Status: StatusQueued}
}

// Succeed records a handler result on a running job.
func Succeed(result json.RawMessage) Patch {
	if result == nil {
		result = json.RawMessage("null")
	}
	return Patch{Expect: StatusRunning, Status: StatusSucceeded, Error: ptr(""), Result: result}
}

// Reschedule returns a running job to the queue after a retryable failure.
func Reschedule(attempts int, at time.Time, msg string) Patch {
	return Patch{
		Expect:    StatusRunning,
		Status:    StatusQueued,
		Attempts:  &attempts,
		NextRunAt: &at,
		Error:     &msg,
	}
}

// Bury dead-letters a running job.
func Bury(attempts int, msg string) Patch {
	return Patch{Expect: StatusRunning, Status: StatusDead, Attempts: &attempts, Error: &msg}
}

// Revive resets a dead job so it runs again at now.
func Revive(now time.Time) Patch {
	return Patch{
		Expect:    StatusDead,
		Status:    StatusQueued,
		Attempts:  ptr(0),
		NextRunAt: &now,
		Error:     ptr(""),
	}
}

func ptr[T any](v T) *T { return &v }
