package models

// JobOutcome represents how a migration job run ended.
type JobOutcome string

const (
	JobSucceeded JobOutcome = "Succeeded"
	JobFailed    JobOutcome = "Failed"
	JobTimedOut  JobOutcome = "TimedOut"
)

// JobSignal names the status field that decided a job outcome.
type JobSignal string

const (
	SignalCompleteCondition JobSignal = "CompleteCondition"
	SignalFailedCondition   JobSignal = "FailedCondition"
	SignalSucceededCount    JobSignal = "SucceededCount"
	SignalPodPhase          JobSignal = "PodPhase"
	SignalTimeout           JobSignal = "Timeout"
)

// JobResult is the terminal result of a migration run.
type JobResult struct {
	JobName string
	Outcome JobOutcome
	Signal  JobSignal
	Logs    string // collected for Failed and TimedOut
}
