package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"creditflow/oracles"
	"creditflow/sequence"
	"creditflow/signature"
	"creditflow/state"
	"creditflow/xmlartifact"
)

type stateView struct {
	Code           state.Code   `json:"code"`
	Label          string       `json:"label"`
	Order          int          `json:"order"`
	Category       string       `json:"category"`
	RequiresAction bool         `json:"requires_action"`
	Final          bool         `json:"final"`
	Targets        []state.Code `json:"targets"`
}

func newStatesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "List lifecycle states and their allowed targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g := state.Default()
			var views []stateView
			for _, s := range g.States() {
				v := stateView{
					Code:           s.Code,
					Label:          s.Label,
					Order:          s.Order,
					Category:       s.Category,
					RequiresAction: s.RequiresAction,
					Final:          s.Final,
				}
				for _, t := range g.AllowedTargets(s.Code) {
					v.Targets = append(v.Targets, t.Code)
				}
				views = append(views, v)
			}
			return emit(cmd.OutOrStdout(), opts, views, func(w io.Writer) {
				for _, v := range views {
					marker := ""
					if v.Final {
						marker = " (final)"
					}
					targets := make([]string, len(v.Targets))
					for i, t := range v.Targets {
						targets[i] = string(t)
					}
					fmt.Fprintf(w, "%2d %-22s %s%s -> [%s]\n", v.Order, v.Code, v.Label, marker, strings.Join(targets, ", "))
				}
			})
		},
	}
}

func newParseCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <tracking-number>",
		Short: "Decode a tracking number into year and sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := sequence.Parse(args[0])
			if err != nil {
				return failure(err)
			}
			out := map[string]int{"year": n.Year, "sequence": n.Sequence}
			return emit(cmd.OutOrStdout(), opts, out, func(w io.Writer) {
				fmt.Fprintf(w, "year=%d sequence=%d\n", n.Year, n.Sequence)
			})
		},
	}
}

func newDiffCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <before.xml> <after.xml>",
		Short: "List leaf differences between two application documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := os.ReadFile(args[0])
			if err != nil {
				return commandError(err)
			}
			after, err := os.ReadFile(args[1])
			if err != nil {
				return commandError(err)
			}
			diffs, err := xmlartifact.Compare(before, after)
			if err != nil {
				return failure(err)
			}
			return emit(cmd.OutOrStdout(), opts, diffs, func(w io.Writer) {
				for _, d := range diffs {
					fmt.Fprintf(w, "%-8s %s: %q -> %q\n", d.Kind, d.Path, d.Before, d.After)
				}
			})
		},
	}
}

func yearFlag(cmd *cobra.Command, year *int) {
	cmd.Flags().IntVar(year, "year", time.Now().Year(), "counter year")
}

func newNextCommand(opts *rootOptions) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Issue the next tracking number for a year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			number, err := sequence.NewGenerator(e.pool, e.logger).Next(cmd.Context(), year)
			if err != nil {
				return failure(err)
			}
			return emit(cmd.OutOrStdout(), opts, map[string]string{"tracking_number": number}, func(w io.Writer) {
				fmt.Fprintln(w, number)
			})
		},
	}
	yearFlag(cmd, &year)
	return cmd
}

func newCurrentCommand(opts *rootOptions) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show a year's counter without issuing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := sequence.NewGenerator(e.pool, e.logger).Current(cmd.Context(), year)
			if err != nil {
				return failure(err)
			}
			return emit(cmd.OutOrStdout(), opts, c, func(w io.Writer) {
				fmt.Fprintf(w, "year=%d value=%d last=%s next=%s\n", c.Year, c.Value, c.Last(), c.Next())
			})
		},
	}
	yearFlag(cmd, &year)
	return cmd
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var (
		year    int
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a year's counter to zero",
		Long: `Reset a year's counter to zero so the next number is 000001.

Numbers already issued for that year will be issued again. Only use this on
a year that has no applications, for example a test environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return commandError(fmt.Errorf("refusing to reset %d without --yes", year))
			}
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := sequence.NewGenerator(e.pool, e.logger).Reset(cmd.Context(), year); err != nil {
				return failure(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "counter %d reset\n", year)
			return nil
		},
	}
	yearFlag(cmd, &year)
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the reset")
	return cmd
}

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <document-id>",
		Short: "Recompute every signature value of a document's chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			svc, err := signature.NewService(e.pool, nil, e.cfg.SigningSecret, signature.WithLogger(e.logger))
			if err != nil {
				return commandError(err)
			}
			results, err := svc.Verify(cmd.Context(), args[0])
			if err != nil {
				return failure(err)
			}
			if err := emit(cmd.OutOrStdout(), opts, results, func(w io.Writer) {
				for _, r := range results {
					status := "ok"
					if !r.Valid {
						status = "MISMATCH"
					}
					fmt.Fprintf(w, "%-8s %s (%s)\n", status, r.SignerID, r.Name)
				}
			}); err != nil {
				return err
			}
			if !signature.Valid(results) {
				return failure(fmt.Errorf("document %s has invalid signatures", args[0]))
			}
			return nil
		},
	}
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Run the store invariant checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			var violations []oracles.Violation
			for _, o := range oracles.All() {
				v, err := oracles.Check(cmd.Context(), e.pool, o)
				if err != nil {
					return failure(err)
				}
				if v != nil {
					violations = append(violations, *v)
				}
			}
			if err := emit(cmd.OutOrStdout(), opts, violations, func(w io.Writer) {
				if len(violations) == 0 {
					fmt.Fprintf(w, "%d checks passed\n", len(oracles.All()))
				}
				for _, v := range violations {
					fmt.Fprintf(w, "FAIL %s: %s\n", v.Oracle, v.Row)
				}
			}); err != nil {
				return err
			}
			if len(violations) > 0 {
				return failure(fmt.Errorf("%d invariant checks failed", len(violations)))
			}
			return nil
		},
	}
}
