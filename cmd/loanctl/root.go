package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"creditflow/config"
	"creditflow/db"
	"creditflow/logging"
)

const (
	exitFailure      = 1 // an audit or verification found a problem
	exitCommandError = 2 // bad input, unreachable database
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	EnvFile string
	Format  string
}

// exitError carries the process exit code out of RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func failure(err error) error { return &exitError{code: exitFailure, err: err} }
func commandError(err error) error { return &exitError{code: exitCommandError, err: err} }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitCommandError
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "loanctl",
		Short:         "Operate the creditflow loan application store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return commandError(fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional dotenv file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newStatesCommand(opts))
	cmd.AddCommand(newParseCommand(opts))
	cmd.AddCommand(newDiffCommand(opts))
	cmd.AddCommand(newNextCommand(opts))
	cmd.AddCommand(newCurrentCommand(opts))
	cmd.AddCommand(newResetCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newAuditCommand(opts))

	return cmd
}

// env is what the database-backed commands share.
type env struct {
	cfg    config.Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func (e *env) Close() {
	e.pool.Close()
	_ = e.logger.Sync()
}

func openEnv(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, commandError(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, commandError(err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, commandError(err)
	}
	return &env{cfg: cfg, pool: pool, logger: logger}, nil
}

// emit writes v as indented JSON, or calls text for the text format.
func emit(w io.Writer, opts *rootOptions, v any, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
