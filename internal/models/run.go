package models

import (
	"time"

	"github.com/google/uuid"
)

// RunState is a step of the run state machine.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateFetching    RunState = "fetching"
	StateFiltering   RunState = "filtering"
	StateDispatching RunState = "dispatching"
	StateReporting   RunState = "reporting"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// DispatchOutcome records a single delivery attempt to a single recipient.
type DispatchOutcome struct {
	RunID     uuid.UUID `json:"run_id"`
	Candidate Candidate `json:"candidate"`
	Recipient string    `json:"recipient"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunResult is the terminal summary of a run.
type RunResult struct {
	ID         uuid.UUID `json:"id"`
	State      RunState  `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Devices    int       `json:"devices"`
	Candidates int       `json:"candidates"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	DigestSent bool      `json:"digest_sent"`
	ReportPath string    `json:"report_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
}

// OK reports whether the run reached Done.
func (r RunResult) OK() bool {
	return r.State == StateDone
}

// RunEvent is published on every state change of a run. Result is set only
// for terminal states.
type RunEvent struct {
	RunID  uuid.UUID  `json:"run_id"`
	State  RunState   `json:"state"`
	Time   time.Time  `json:"time"`
	Result *RunResult `json:"result,omitempty"`
}
