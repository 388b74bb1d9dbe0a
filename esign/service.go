// Package esign applies signing-provider completion events: the signer is
// appended to the document's chain and, once every required signer is
// present, the application moves to signed.
package esign

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"creditflow/application"
	"creditflow/db"
	"creditflow/signature"
	"creditflow/state"
	"creditflow/xmlartifact"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type IdempotencyRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
}

type Signatures interface {
	StartTx(ctx context.Context, tx pgx.Tx, params signature.StartParams) (signature.Record, error)
	AppendTx(ctx context.Context, tx pgx.Tx, documentID string, signer signature.Signer) (signature.Record, error)
	WithDocumentLock(ctx context.Context, documentID string, fn func(context.Context) error) error
}

type Applications interface {
	Get(ctx context.Context, id string) (application.Application, error)
	Snapshot(app application.Application) (xmlartifact.Document, error)
	AttachArtifactTx(ctx context.Context, tx pgx.Tx, applicationID, documentID string) error
	TransitionTx(ctx context.Context, tx pgx.Tx, params application.TransitionParams) (application.Application, error)
}

// SignerCompletedRequest is the webhook payload normalized for the service.
type SignerCompletedRequest struct {
	Token          string
	DocumentID     string
	IdempotencyKey string
	Signer         signature.Signer
}

type Outcome struct {
	Duplicate    bool
	Record       signature.Record
	Transitioned bool
}

type Service struct {
	pool         TxBeginner
	repo         IdempotencyRepository
	signatures   Signatures
	applications Applications
	verifier     *Verifier
	logger       *zap.Logger
}

func NewService(pool TxBeginner, repo IdempotencyRepository, signatures Signatures, applications Applications, verifier *Verifier, logger *zap.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:         pool,
		repo:         repo,
		signatures:   signatures,
		applications: applications,
		verifier:     verifier,
		logger:       logger,
	}
}

// PrepareDocument snapshots the application, opens an empty signature chain
// over it for the required signers and records it as the application's
// current artifact.
func (s *Service) PrepareDocument(ctx context.Context, applicationID string, requiredSigners []string) (signature.Record, error) {
	if len(requiredSigners) == 0 {
		return signature.Record{}, fmt.Errorf("esign: at least one required signer")
	}

	app, err := s.applications.Get(ctx, applicationID)
	if err != nil {
		return signature.Record{}, err
	}
	base, err := s.applications.Snapshot(app)
	if err != nil {
		return signature.Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return signature.Record{}, db.Wrap("begin tx", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.signatures.StartTx(ctx, tx, signature.StartParams{
		ApplicationID:   app.ID,
		Base:            base,
		RequiredSigners: requiredSigners,
	})
	if err != nil {
		return signature.Record{}, err
	}
	if err := s.applications.AttachArtifactTx(ctx, tx, app.ID, rec.DocumentID); err != nil {
		return signature.Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("prepare document", zap.String("application_id", app.ID), zap.Error(err))
		return signature.Record{}, db.Wrap("commit prepare document", err)
	}

	s.logger.Info("signature document prepared",
		zap.String("application_id", app.ID),
		zap.String("document_id", rec.DocumentID),
		zap.Strings("required_signers", requiredSigners),
	)
	return rec, nil
}

// HandleSignerCompleted appends the signer and, when the chain is complete,
// transitions the application to signed. Both happen in one transaction
// under the document lock. Replays of an idempotency key are no-ops.
func (s *Service) HandleSignerCompleted(ctx context.Context, req SignerCompletedRequest) (Outcome, error) {
	if req.DocumentID == "" {
		return Outcome{}, fmt.Errorf("esign: missing document id")
	}
	if req.IdempotencyKey == "" {
		return Outcome{}, fmt.Errorf("esign: missing idempotency key")
	}
	if s.verifier != nil {
		claims, err := s.verifier.Verify(req.Token)
		if err != nil {
			return Outcome{}, err
		}
		if claims.DocumentID != req.DocumentID || claims.SignerID != req.Signer.ID {
			return Outcome{}, fmt.Errorf("%w: token does not match event", ErrUnauthorized)
		}
	}

	var out Outcome
	err := s.signatures.WithDocumentLock(ctx, req.DocumentID, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return db.Wrap("begin tx", err)
		}
		defer tx.Rollback(ctx)

		if err := s.repo.InsertIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				out.Duplicate = true
				return nil
			}
			return err
		}

		rec, err := s.signatures.AppendTx(ctx, tx, req.DocumentID, req.Signer)
		if err != nil {
			return err
		}
		out.Record = rec

		if rec.Complete() {
			_, err := s.applications.TransitionTx(ctx, tx, application.TransitionParams{
				ApplicationID: rec.ApplicationID,
				Target:        state.Signed,
				Detail:        "all required signatures received",
				Automatic:     true,
			})
			switch {
			case err == nil:
				out.Transitioned = true
			case errors.Is(err, state.ErrInvalidTransition):
				s.logger.Info("signature chain complete but application cannot move to signed",
					zap.String("application_id", rec.ApplicationID),
					zap.Error(err),
				)
			default:
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return db.Wrap("commit signer completed", err)
		}
		return nil
	})
	if err != nil {
		if db.IsStorage(err) {
			s.logger.Error("signer completed", zap.String("document_id", req.DocumentID), zap.Error(err))
		}
		return Outcome{}, err
	}
	return out, nil
}
