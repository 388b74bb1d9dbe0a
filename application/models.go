package application

import (
	"errors"
	"time"

	"creditflow/state"
	"creditflow/xmlartifact"
)

var (
	// ErrNotFound is returned when no application row exists for the identifier.
	ErrNotFound = errors.New("application: not found")
	// ErrFinalState is returned for payload updates on a closed application.
	ErrFinalState = errors.New("application: application is in a final state")
	// ErrInvalidTerms is returned for out-of-range monetary terms.
	ErrInvalidTerms = errors.New("application: invalid terms")
)

// Application is the loan application aggregate. State changes only through
// Transition; every change appends to Timeline.
type Application struct {
	ID             string
	TrackingNumber string
	OwnerID        string
	State          state.Code
	Terms          Terms
	Payload        xmlartifact.Payload
	ArtifactID     *string
	Timeline       []TimelineEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TimelineEntry is one ledger row. Seq starts at 1 and has no gaps.
type TimelineEntry struct {
	ID            int64
	ApplicationID string
	Seq           int
	State         state.Code
	Detail        string
	ActorID       *string
	Automatic     bool
	CreatedAt     time.Time
}

// States returns the ledger as a walk over the state graph.
func States(entries []TimelineEntry) []state.Code {
	out := make([]state.Code, len(entries))
	for i, e := range entries {
		out[i] = e.State
	}
	return out
}

// Newest returns a copy of entries, most recent first.
func Newest(entries []TimelineEntry) []TimelineEntry {
	out := make([]TimelineEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

type CreateParams struct {
	OwnerID string
	ActorID *string
	Terms   Terms
	Payload xmlartifact.Payload
}

type TransitionParams struct {
	ApplicationID string
	Target        state.Code
	Detail        string
	ActorID       *string
	Automatic     bool
}

type UpdatePayloadParams struct {
	ApplicationID string
	Terms         Terms
	Payload       xmlartifact.Payload
}
