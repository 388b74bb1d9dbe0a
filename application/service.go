package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"creditflow/db"
	"creditflow/metrics"
	"creditflow/sequence"
	"creditflow/state"
	"creditflow/xmlartifact"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NumberIssuer hands out tracking numbers inside the caller's transaction.
type NumberIssuer interface {
	NextTx(ctx context.Context, q sequence.Querier, year int) (string, error)
}

// Service owns every write to applications and their ledger. State and
// ledger are always written in the same transaction.
type Service struct {
	pool    TxBeginner
	repo    Repository
	numbers NumberIssuer
	graph   *state.Graph
	logger  *zap.Logger
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithGraph(g *state.Graph) Option {
	return func(s *Service) { s.graph = g }
}

// WithLocation sets the zone used to pick the tracking number year.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(pool TxBeginner, repo Repository, numbers NumberIssuer, opts ...Option) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	s := &Service{
		pool:    pool,
		repo:    repo,
		numbers: numbers,
		graph:   state.Default(),
		logger:  zap.NewNop(),
		loc:     time.UTC,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Graph() *state.Graph {
	return s.graph
}

// Create issues a tracking number and stores a new application at the
// initial state with its first ledger entry. Nothing is kept, including the
// number, unless everything commits.
func (s *Service) Create(ctx context.Context, params CreateParams) (Application, error) {
	if params.OwnerID == "" {
		return Application{}, fmt.Errorf("application: missing owner id")
	}
	if err := params.Terms.Validate(); err != nil {
		return Application{}, err
	}
	if err := xmlartifact.Validate(params.Payload); err != nil {
		return Application{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, s.storageFailure("begin tx", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().In(s.loc)
	number, err := s.numbers.NextTx(ctx, tx, now.Year())
	if err != nil {
		return Application{}, s.storageFailure("issue tracking number", err)
	}

	app := New(s.graph, uuid.NewString(), number, params.OwnerID, params.Terms, now)
	app.Payload = params.Payload
	app.Timeline[0].ActorID = params.ActorID

	if err := s.repo.Insert(ctx, tx, app); err != nil {
		return Application{}, s.storageFailure("insert application", err, zap.String("tracking_number", number))
	}
	entry, err := s.repo.AppendTimeline(ctx, tx, app.Timeline[0])
	if err != nil {
		return Application{}, s.storageFailure("append timeline", err, zap.String("application_id", app.ID))
	}
	app.Timeline[0] = entry

	if err := s.repo.EnqueueOutbox(ctx, tx, "application.created", map[string]any{
		"application_id":  app.ID,
		"tracking_number": app.TrackingNumber,
		"owner_id":        app.OwnerID,
		"state":           string(app.State),
	}); err != nil {
		return Application{}, s.storageFailure("enqueue outbox", err, zap.String("application_id", app.ID))
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, s.storageFailure("commit create", err, zap.String("application_id", app.ID))
	}

	s.logger.Info("application created",
		zap.String("application_id", app.ID),
		zap.String("tracking_number", app.TrackingNumber),
	)
	return app, nil
}

// Transition validates and applies a state change in its own transaction
// and returns the refreshed aggregate.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, s.storageFailure("begin tx", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.TransitionTx(ctx, tx, params)
	if err != nil {
		return Application{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, s.storageFailure("commit transition", err, zap.String("application_id", params.ApplicationID))
	}
	return app, nil
}

// TransitionTx applies a state change on the caller's transaction. The
// application row is locked first, so a concurrent transition from the same
// state sees the committed result and is validated against it.
func (s *Service) TransitionTx(ctx context.Context, tx pgx.Tx, params TransitionParams) (Application, error) {
	if params.ApplicationID == "" {
		return Application{}, fmt.Errorf("application: missing application id")
	}
	id, err := parseID(params.ApplicationID)
	if err != nil {
		return Application{}, err
	}

	app, err := s.repo.Get(ctx, tx, id, true)
	if err != nil {
		return Application{}, s.storageFailure("lock application", err, zap.String("application_id", id))
	}

	previous := app.State
	entry, err := app.Transition(s.graph, params.Target, params.Detail, params.ActorID, params.Automatic, s.now().In(s.loc))
	if err != nil {
		if errors.Is(err, state.ErrInvalidTransition) {
			metrics.RecordTransitionRejected(string(previous), string(params.Target))
		}
		return Application{}, err
	}

	if err := s.repo.UpdateState(ctx, tx, app.ID, app.State, app.UpdatedAt); err != nil {
		return Application{}, s.storageFailure("update application state", err, zap.String("application_id", app.ID))
	}
	stored, err := s.repo.AppendTimeline(ctx, tx, entry)
	if err != nil {
		return Application{}, s.storageFailure("append timeline", err, zap.String("application_id", app.ID))
	}
	app.Timeline[len(app.Timeline)-1] = stored

	outbox := map[string]any{
		"application_id":  app.ID,
		"tracking_number": app.TrackingNumber,
		"previous":        string(previous),
		"next":            string(app.State),
		"automatic":       params.Automatic,
	}
	if params.ActorID != nil {
		outbox["actor_id"] = *params.ActorID
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, "application.status_changed", outbox); err != nil {
		return Application{}, s.storageFailure("enqueue outbox", err, zap.String("application_id", app.ID))
	}

	metrics.RecordTransition(string(previous), string(app.State), params.Automatic)
	s.logger.Info("application transitioned",
		zap.String("application_id", app.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(app.State)),
		zap.Bool("automatic", params.Automatic),
	)
	return app, nil
}

// UpdatePayload replaces payload and terms without touching state. Closed
// applications are rejected with ErrFinalState.
func (s *Service) UpdatePayload(ctx context.Context, params UpdatePayloadParams) (Application, error) {
	if err := params.Terms.Validate(); err != nil {
		return Application{}, err
	}
	if err := xmlartifact.Validate(params.Payload); err != nil {
		return Application{}, err
	}

	id, err := parseID(params.ApplicationID)
	if err != nil {
		return Application{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, s.storageFailure("begin tx", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.Get(ctx, tx, id, true)
	if err != nil {
		return Application{}, s.storageFailure("lock application", err, zap.String("application_id", id))
	}
	if !app.CanBeModified(s.graph) {
		return Application{}, fmt.Errorf("%w: %s", ErrFinalState, app.State)
	}

	app.Terms = params.Terms
	app.Payload = params.Payload
	app.UpdatedAt = s.now().In(s.loc)
	if err := s.repo.UpdatePayload(ctx, tx, app); err != nil {
		return Application{}, s.storageFailure("update application payload", err, zap.String("application_id", app.ID))
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, "application.updated", map[string]any{
		"application_id":  app.ID,
		"tracking_number": app.TrackingNumber,
	}); err != nil {
		return Application{}, s.storageFailure("enqueue outbox", err, zap.String("application_id", app.ID))
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, s.storageFailure("commit payload update", err, zap.String("application_id", app.ID))
	}
	return app, nil
}

// AttachArtifactTx records documentID as the application's current artifact.
func (s *Service) AttachArtifactTx(ctx context.Context, tx pgx.Tx, applicationID, documentID string) error {
	applicationID, err := parseID(applicationID)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(documentID); err != nil {
		return fmt.Errorf("application: artifact id %q is not a uuid", documentID)
	}
	if err := s.repo.SetArtifact(ctx, tx, applicationID, documentID, s.now().In(s.loc)); err != nil {
		return s.storageFailure("set application artifact", err, zap.String("application_id", applicationID))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (Application, error) {
	id, err := parseID(id)
	if err != nil {
		return Application{}, err
	}
	return s.read(ctx, "get application", func(tx pgx.Tx) (Application, error) {
		return s.repo.Get(ctx, tx, id, false)
	})
}

func (s *Service) GetByTrackingNumber(ctx context.Context, number string) (Application, error) {
	if _, err := sequence.Parse(number); err != nil {
		return Application{}, err
	}
	return s.read(ctx, "get application by number", func(tx pgx.Tx) (Application, error) {
		return s.repo.GetByTrackingNumber(ctx, tx, number)
	})
}

// ListTimeline returns the ledger in append order.
func (s *Service) ListTimeline(ctx context.Context, id string) ([]TimelineEntry, error) {
	id, err := parseID(id)
	if err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.storageFailure("begin tx", err)
	}
	defer tx.Rollback(ctx)

	entries, err := s.repo.ListTimeline(ctx, tx, id)
	if err != nil {
		return nil, s.storageFailure("list timeline", err, zap.String("application_id", id))
	}
	return entries, nil
}

// AvailableTransitions lists the states the application can move to next.
func (s *Service) AvailableTransitions(ctx context.Context, id string) ([]state.State, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.graph.AllowedTargets(app.State), nil
}

// Snapshot renders the application's current content as a document.
func (s *Service) Snapshot(app Application) (xmlartifact.Document, error) {
	return Snapshot(app, s.now().In(s.loc))
}

func (s *Service) read(ctx context.Context, op string, fn func(pgx.Tx) (Application, error)) (Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, s.storageFailure("begin tx", err)
	}
	defer tx.Rollback(ctx)

	app, err := fn(tx)
	if err != nil {
		return Application{}, s.storageFailure(op, err)
	}
	return app, nil
}

// storageFailure logs err when it came from the store and returns it
// wrapped. Validation errors pass through untouched.
func (s *Service) storageFailure(op string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrNotFound) || !isStorageCandidate(err) {
		return err
	}
	err = db.Wrap(op, err)
	metrics.RecordStorageError(op)
	s.logger.Error(op, append(fields, zap.Error(err))...)
	return err
}

// parseID returns the canonical form of an application id. Anything that is
// not a UUID cannot exist and is reported as ErrNotFound.
func parseID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return u.String(), nil
}

func isStorageCandidate(err error) bool {
	switch {
	case errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, sequence.ErrExhausted),
		errors.Is(err, sequence.ErrFormat),
		errors.Is(err, sequence.ErrYearOutOfRange):
		return false
	}
	return true
}
