package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"creditflow/application"
	"creditflow/config"
	"creditflow/db"
	"creditflow/esign"
	"creditflow/lock"
	"creditflow/logging"
	"creditflow/metrics"
	"creditflow/sequence"
	"creditflow/signature"
)

type signerEvents interface {
	HandleSignerCompleted(ctx context.Context, req esign.SignerCompletedRequest) (esign.Outcome, error)
}

type Server struct {
	events signerEvents
	logger *zap.Logger
}

type signerCompletedRequest struct {
	EventID    string           `json:"event_id"`
	DocumentID string           `json:"document_id"`
	Signer     signature.Signer `json:"signer"`
}

type signerCompletedResponse struct {
	DocumentID   string `json:"document_id"`
	Duplicate    bool   `json:"duplicate"`
	Signatures   int    `json:"signatures"`
	Complete     bool   `json:"complete"`
	Transitioned bool   `json:"transitioned"`
}

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*envFile); err != nil {
		log.Fatalf("creditflow api: %v", err)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	apps := application.NewService(pool, nil, sequence.NewGenerator(pool, logger),
		application.WithLogger(logger),
		application.WithLocation(loc),
	)

	sigOpts := []signature.Option{signature.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		sigOpts = append(sigOpts, signature.WithLocker(lock.NewRedisLocker(client, lock.Options{Expiry: cfg.LockExpiry}, logger)))
	} else {
		logger.Warn("REDIS_ADDR not set, signature appends rely on the artifact row lock only")
	}
	sigs, err := signature.NewService(pool, nil, cfg.SigningSecret, sigOpts...)
	if err != nil {
		return err
	}

	var verifier *esign.Verifier
	if cfg.WebhookSecret != "" {
		if verifier, err = esign.NewVerifier(cfg.WebhookSecret); err != nil {
			return err
		}
	} else {
		logger.Warn("WEBHOOK_SECRET not set, signer events are accepted without a token")
	}
	pipeline := esign.NewService(pool, nil, sigs, apps, verifier, logger)

	server := &Server{events: pipeline, logger: logger}
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: server.routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("creditflow api listening", zap.String("addr", cfg.MetricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/webhooks/signer-completed", s.handleSignerCompleted)
	return mux
}

func (s *Server) handleSignerCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body signerCompletedRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.EventID == "" || body.DocumentID == "" || body.Signer.ID == "" {
		writeError(w, http.StatusBadRequest, "event_id, document_id and signer.id are required")
		return
	}
	if _, err := uuid.Parse(body.DocumentID); err != nil {
		writeError(w, http.StatusBadRequest, "document_id must be a UUID")
		return
	}

	out, err := s.events.HandleSignerCompleted(r.Context(), esign.SignerCompletedRequest{
		Token:          bearerToken(r),
		DocumentID:     body.DocumentID,
		IdempotencyKey: body.EventID,
		Signer:         body.Signer,
	})
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError && s.logger != nil {
			s.logger.Error("signer completed webhook", zap.String("document_id", body.DocumentID), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, signerCompletedResponse{
		DocumentID:   body.DocumentID,
		Duplicate:    out.Duplicate,
		Signatures:   out.Record.Artifact.NodeCount(),
		Complete:     out.Record.Complete(),
		Transitioned: out.Transitioned,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, esign.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, signature.ErrNotFound), errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, "document not found"
	case errors.Is(err, signature.ErrDuplicateSigner):
		return http.StatusConflict, "signer already present"
	case errors.Is(err, signature.ErrInvalidSigner):
		return http.StatusBadRequest, "signer fields contain characters that cannot be signed"
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusServiceUnavailable, "document busy, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
