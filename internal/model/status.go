package model

// Run statuses. Values are stored verbatim in the runs table and carried
// through the endpoint protocol.
const (
	RunStatusPending              = "PENDING"
	RunStatusQueued               = "QUEUED"
	RunStatusWaitingOnConnections = "WAITING_ON_CONNECTIONS"
	RunStatusStarted              = "STARTED"
	RunStatusSuccess              = "SUCCESS"
	RunStatusFailure              = "FAILURE"
	RunStatusAborted              = "ABORTED"
)

// Execution attempt statuses.
const (
	ExecutionStatusPending = "PENDING"
	ExecutionStatusStarted = "STARTED"
	ExecutionStatusSuccess = "SUCCESS"
	ExecutionStatusFailure = "FAILURE"
)

// Execution reasons: which protocol phase the attempt drives.
const (
	ExecutionReasonPreprocess = "PREPROCESS"
	ExecutionReasonExecuteJob = "EXECUTE_JOB"
)

// Task statuses.
const (
	TaskStatusPending   = "PENDING"
	TaskStatusRunning   = "RUNNING"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusErrored   = "ERRORED"
)

// Connection scopes.
const (
	ConnectionTypeDeveloper = "DEVELOPER"
	ConnectionTypeExternal  = "EXTERNAL"
)

// StartableRunStatuses are the statuses from which StartRun may proceed.
// A run in any other status has already been started (or finished) and a
// duplicate start trigger must be a no-op.
var StartableRunStatuses = []string{
	RunStatusPending,
	RunStatusQueued,
	RunStatusWaitingOnConnections,
}
