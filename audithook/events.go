package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobAdded     = "job.added"
	ActionJobStarted   = "job.started"
	ActionJobSucceeded = "job.succeeded"
	ActionJobFailed    = "job.failed"
	ActionJobDead      = "job.dead"
	ActionJobRetried   = "job.retried"
	ActionJobsPurged   = "jobs.purged"
)

// Audit event categories group related actions.
const (
	CategoryJob      = "outbox.job"
	CategoryOperator = "outbox.operator"
)

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobAdded,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobFailed,
		ActionJobDead,
		ActionJobRetried,
		ActionJobsPurged,
	}
}
