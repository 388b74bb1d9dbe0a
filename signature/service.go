package signature

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
	"creditflow/xmlartifact"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Locker serializes work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

type Service struct {
	pool   TxBeginner
	store  Store
	locker Locker
	secret string
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocker adds a distributed lock around appends, on top of the row lock.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func NewService(pool TxBeginner, store Store, secret string, opts ...Option) (*Service, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewPGStore(nil)
	}
	s := &Service{
		pool:   pool,
		store:  store,
		secret: secret,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type StartParams struct {
	DocumentID      string
	ApplicationID   string
	Base            xmlartifact.Document
	Signers         []Signer
	RequiredSigners []string
}

// StartTx creates and stores a chain on the caller's transaction.
func (s *Service) StartTx(ctx context.Context, tx pgx.Tx, params StartParams) (Record, error) {
	if params.ApplicationID == "" {
		return Record{}, fmt.Errorf("signature: missing application id")
	}
	if _, err := uuid.Parse(params.ApplicationID); err != nil {
		return Record{}, fmt.Errorf("signature: application id %q is not a uuid", params.ApplicationID)
	}
	if params.DocumentID == "" {
		params.DocumentID = uuid.NewString()
	} else if _, err := uuid.Parse(params.DocumentID); err != nil {
		return Record{}, fmt.Errorf("signature: document id %q is not a uuid", params.DocumentID)
	}

	a, err := CreateChain(params.Base, params.Signers, s.secret, s.now())
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		DocumentID:      params.DocumentID,
		ApplicationID:   params.ApplicationID,
		RequiredSigners: params.RequiredSigners,
		Artifact:        a,
	}
	if err := s.store.Insert(ctx, tx, rec); err != nil {
		s.logStorage("insert signature artifact", err, zap.String("document_id", rec.DocumentID))
		return Record{}, err
	}
	return rec, nil
}

// Start creates and stores a chain in its own transaction.
func (s *Service) Start(ctx context.Context, params StartParams) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, db.Wrap("begin tx", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.StartTx(ctx, tx, params)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		s.logStorage("commit signature start", err, zap.String("document_id", rec.DocumentID))
		return Record{}, db.Wrap("commit signature start", err)
	}
	return rec, nil
}

// AppendTx appends one signer on the caller's transaction. The artifact row
// stays locked until that transaction ends.
func (s *Service) AppendTx(ctx context.Context, tx pgx.Tx, documentID string, signer Signer) (Record, error) {
	documentID, err := parseDocumentID(documentID)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.store.LoadForUpdate(ctx, tx, documentID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logStorage("load signature artifact", err, zap.String("document_id", documentID))
		}
		return Record{}, err
	}

	next, err := Append(rec.Artifact, signer, s.secret, s.now())
	if err != nil {
		return Record{}, err
	}
	rec.Artifact = next

	if err := s.store.Save(ctx, tx, rec); err != nil {
		s.logStorage("save signature artifact", err, zap.String("document_id", documentID))
		return Record{}, err
	}

	metrics.RecordSignatureAppended()
	s.logger.Info("signature appended",
		zap.String("document_id", documentID),
		zap.String("signer_id", next.Entries[len(next.Entries)-1].ID),
		zap.Int("node_count", next.NodeCount()),
	)
	return rec, nil
}

// Append appends one signer in its own transaction, under the document lock.
func (s *Service) Append(ctx context.Context, documentID string, signer Signer) (Record, error) {
	var rec Record
	err := s.WithDocumentLock(ctx, documentID, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return db.Wrap("begin tx", err)
		}
		defer tx.Rollback(ctx)

		if rec, err = s.AppendTx(ctx, tx, documentID, signer); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			s.logStorage("commit signature append", err, zap.String("document_id", documentID))
			return db.Wrap("commit signature append", err)
		}
		return nil
	})
	return rec, err
}

// WithDocumentLock runs fn holding the distributed lock for documentID, or
// directly when no locker is configured.
func (s *Service) WithDocumentLock(ctx context.Context, documentID string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, "lock:signature:"+documentID, fn)
}

// Get loads the artifact without locking it.
func (s *Service) Get(ctx context.Context, documentID string) (Record, error) {
	documentID, err := parseDocumentID(documentID)
	if err != nil {
		return Record{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, db.Wrap("begin tx", err)
	}
	defer tx.Rollback(ctx)
	return s.store.Get(ctx, tx, documentID)
}

// Verify loads the artifact and checks every entry.
func (s *Service) Verify(ctx context.Context, documentID string) ([]Result, error) {
	documentID, err := parseDocumentID(documentID)
	if err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, db.Wrap("begin tx", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.Get(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}
	return VerifyChain(rec.Artifact, s.secret), nil
}

// parseDocumentID canonicalizes a document id. A non-UUID id names no artifact.
func parseDocumentID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return u.String(), nil
}

func (s *Service) logStorage(op string, err error, fields ...zap.Field) {
	if !db.IsStorage(err) {
		return
	}
	metrics.RecordStorageError(op)
	s.logger.Error(op, append(fields, zap.Error(err))...)
}
