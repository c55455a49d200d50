package models

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	// StatusAccepted indicates the request was validated and registered.
	StatusAccepted Status = "accepted"
	// StatusRunning indicates the agent session is executing.
	StatusRunning Status = "running"
	// StatusCorrecting indicates the session is in a self-correction cycle.
	StatusCorrecting Status = "correcting"
	// StatusApproved indicates the session finished successfully.
	StatusApproved Status = "approved"
	// StatusFailed indicates the session reported an error result.
	StatusFailed Status = "failed"
	// StatusError indicates the session crashed or could not start.
	StatusError Status = "error"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusRunning, StatusCorrecting, StatusApproved, StatusFailed, StatusError:
		return true
	default:
		return false
	}
}

// Terminal returns true for states with no allowed successors.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusFailed, StatusError:
		return true
	default:
		return false
	}
}
