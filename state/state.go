package state

import (
	"errors"
	"fmt"
)

// Code identifies a lifecycle state. Codes are stable and are what gets
// persisted; labels are for display only.
type Code string

const (
	IntakeReceived     Code = "intake-received"
	DocumentsUploaded  Code = "documents-uploaded"
	SentForValidation  Code = "sent-for-validation"
	PendingSignature   Code = "pending-signature"
	Signed             Code = "signed"
	SentForApproval    Code = "sent-for-approval"
	Approved           Code = "approved"
	Disbursed          Code = "disbursed"
	Finalized          Code = "finalized"
	Rejected           Code = "rejected"
	Withdrawn          Code = "withdrawn"
	RequiresCorrection Code = "requires-correction"
)

// State is one node of the lifecycle graph.
type State struct {
	Code           Code   `yaml:"code"`
	Label          string `yaml:"label"`
	Order          int    `yaml:"order"`
	Category       string `yaml:"category"`
	RequiresAction bool   `yaml:"requires_action"`
	Final          bool   `yaml:"final"`
}

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("state: invalid transition")
	// ErrUnknownState is returned when a code is not part of the graph.
	ErrUnknownState = errors.New("state: unknown state")
	// ErrInvalidWalk is returned by ValidateWalk for sequences that do not start at the initial state.
	ErrInvalidWalk = errors.New("state: invalid walk")
	// ErrInvalidGraph is returned by Load when the table breaks a structural rule.
	ErrInvalidGraph = errors.New("state: invalid graph")
)

// InvalidTransitionError reports a (from, to) pair that is not an edge.
type InvalidTransitionError struct {
	From Code
	To   Code
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("state: transition %s -> %s not allowed", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
