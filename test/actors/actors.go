// Package actors drives concurrent load against the application services for
// the stress test. Actors swallow the errors that contention and backend
// termination are expected to produce and stop only on unexpected ones.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"creditflow/application"
	"creditflow/db"
	"creditflow/esign"
	"creditflow/lock"
	"creditflow/signature"
	"creditflow/state"
)

// Registry tracks the applications created so far so other actors can pick targets.
type Registry struct {
	mu  sync.Mutex
	ids []string
}

func (r *Registry) Add(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

// Pick returns a random known application, or "" when none exist yet.
func (r *Registry) Pick() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return ""
	}
	return r.ids[rand.Intn(len(r.ids))]
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Creator keeps opening applications, each drawing a tracking number.
func Creator(ctx context.Context, apps *application.Service, reg *Registry, owner string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		if done(ctx, stop) {
			return nil
		}
		app, err := apps.Create(ctx, application.CreateParams{OwnerID: fmt.Sprintf("%s-%d", owner, i)})
		switch {
		case err == nil:
			reg.Add(app.ID)
		case tolerated(err):
		default:
			return fmt.Errorf("creator: %w", err)
		}
		sleep(10, 20)
	}
}

// Mover pushes random applications along random allowed edges. Several movers
// racing on one application exercise the row lock.
func Mover(ctx context.Context, apps *application.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		id := reg.Pick()
		if id == "" {
			sleep(10, 10)
			continue
		}
		targets, err := apps.AvailableTransitions(ctx, id)
		if err != nil {
			if tolerated(err) {
				continue
			}
			return fmt.Errorf("mover: %w", err)
		}
		if len(targets) == 0 {
			continue
		}
		target := targets[rand.Intn(len(targets))].Code
		if target == state.Signed {
			// Left to the signing pipeline.
			continue
		}
		_, err = apps.Transition(ctx, application.TransitionParams{ApplicationID: id, Target: target})
		if err != nil && !tolerated(err) && !errors.Is(err, state.ErrInvalidTransition) {
			return fmt.Errorf("mover %s -> %s: %w", id, target, err)
		}
		sleep(15, 35)
	}
}

// Signer prepares documents for applications waiting on signatures and
// delivers each completion event twice to exercise idempotency.
func Signer(ctx context.Context, apps *application.Service, pipeline *esign.Service, reg *Registry, stop <-chan struct{}) error {
	signers := []string{"applicant", "cosigner"}
	for {
		if done(ctx, stop) {
			return nil
		}
		id := reg.Pick()
		if id == "" {
			sleep(10, 10)
			continue
		}
		app, err := apps.Get(ctx, id)
		if err != nil || app.State != state.PendingSignature || app.ArtifactID != nil {
			if err != nil && !tolerated(err) {
				return fmt.Errorf("signer get: %w", err)
			}
			sleep(10, 20)
			continue
		}

		rec, err := pipeline.PrepareDocument(ctx, id, signers)
		if err != nil {
			if tolerated(err) {
				continue
			}
			return fmt.Errorf("signer prepare: %w", err)
		}
		for _, s := range signers {
			req := esign.SignerCompletedRequest{
				DocumentID:     rec.DocumentID,
				IdempotencyKey: rec.DocumentID + ":" + s,
				Signer:         signature.Signer{ID: s, Name: s, Role: s},
			}
			for attempt := 0; attempt < 2; attempt++ {
				if _, err := pipeline.HandleSignerCompleted(ctx, req); err != nil && !tolerated(err) {
					return fmt.Errorf("signer %s: %w", s, err)
				}
			}
		}
		sleep(20, 40)
	}
}

func tolerated(err error) bool {
	return db.IsStorage(err) ||
		errors.Is(err, lock.ErrNotAcquired) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func sleep(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}
