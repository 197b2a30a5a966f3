package models

import "time"

type ReportKind string

const (
	ReportInfo    ReportKind = "info"
	ReportSuccess ReportKind = "success"
	ReportError   ReportKind = "error"
)

// StatusReport is one entry of the stream a purchase returns. Attempt and
// AttemptMax are set only on polling progress reports.
type StatusReport struct {
	SessionID  string       `json:"session_id"`
	Kind       ReportKind   `json:"kind"`
	State      SessionState `json:"state"`
	Message    string       `json:"message"`
	Attempt    int          `json:"attempt,omitempty"`
	AttemptMax int          `json:"attempt_max,omitempty"`
	ErrorKind  ErrorKind    `json:"error_kind,omitempty"`
	Time       time.Time    `json:"time"`
}

func (r StatusReport) IsProgress() bool {
	return r.Attempt > 0
}
