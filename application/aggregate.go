package application

import (
	"fmt"
	"time"

	"creditflow/state"
)

// CreatedDetail is the detail of every application's first ledger entry.
const CreatedDetail = "application created"

// New builds an application at the graph's initial state with its first
// ledger entry.
func New(g *state.Graph, id, trackingNumber, ownerID string, terms Terms, now time.Time) Application {
	initial := g.Initial().Code
	return Application{
		ID:             id,
		TrackingNumber: trackingNumber,
		OwnerID:        ownerID,
		State:          initial,
		Terms:          terms,
		CreatedAt:      now,
		UpdatedAt:      now,
		Timeline: []TimelineEntry{{
			ApplicationID: id,
			Seq:           1,
			State:         initial,
			Detail:        CreatedDetail,
			Automatic:     true,
			CreatedAt:     now,
		}},
	}
}

// Transition moves a to target and appends the matching ledger entry. On an
// invalid edge a is left untouched and the *state.InvalidTransitionError is
// returned.
func (a *Application) Transition(g *state.Graph, target state.Code, detail string, actorID *string, automatic bool, now time.Time) (TimelineEntry, error) {
	if err := g.Validate(a.State, target); err != nil {
		return TimelineEntry{}, err
	}

	if detail == "" {
		from, _ := g.Lookup(a.State)
		to, _ := g.Lookup(target)
		detail = fmt.Sprintf("%s -> %s", from.Label, to.Label)
	}
	entry := TimelineEntry{
		ApplicationID: a.ID,
		Seq:           len(a.Timeline) + 1,
		State:         target,
		Detail:        detail,
		ActorID:       actorID,
		Automatic:     automatic,
		CreatedAt:     now,
	}
	a.State = target
	a.UpdatedAt = now
	a.Timeline = append(a.Timeline, entry)
	return entry, nil
}

// CanBeModified reports whether payload and terms may still change.
func (a Application) CanBeModified(g *state.Graph) bool {
	return !g.IsFinal(a.State)
}
