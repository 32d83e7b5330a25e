package domain

import "time"

// CallResult is advisory metadata captured with a call; it never drives the
// lead lifecycle.
type CallResult string

const (
	CallResultAnswered  CallResult = "answered"
	CallResultMissed    CallResult = "missed"
	CallResultCallback  CallResult = "callback"
	CallResultConverted CallResult = "converted"
)

// Valid reports whether the result is known.
func (r CallResult) Valid() bool {
	switch r {
	case CallResultAnswered, CallResultMissed, CallResultCallback, CallResultConverted:
		return true
	}
	return false
}

// CallRecord is an immutable log entry for a call placed on a lead.
type CallRecord struct {
	ID              string
	LeadID          string
	CallerID        string
	Result          CallResult
	Remarks         *string
	DurationSeconds *int
	CreatedAt       time.Time
}
