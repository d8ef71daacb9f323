package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-klinik/internal/app"
	"github.com/noah-isme/backend-klinik/internal/auth"
	"github.com/noah-isme/backend-klinik/internal/config"
	"github.com/noah-isme/backend-klinik/internal/db"
	"github.com/noah-isme/backend-klinik/internal/invoice"
	"github.com/noah-isme/backend-klinik/internal/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for the clinic billing service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(recomputeCmd())
	root.AddCommand(invoiceCmd())
	root.AddCommand(tokenCmd())
	return root
}

// withDeps loads configuration and opens the record store for one command.
func withDeps(cmd *cobra.Command, fn func(*app.Dependencies) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "billingctl").Logger()
	deps, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()
	return fn(deps)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	for _, dir := range []db.Direction{db.Up, db.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Run every %s migration", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				// postgres migrates by URL; sqlite needs the open handle
				var st app.Store
				if cfg.StoreDriver == config.DriverSQLite {
					opened, closeFn, err := app.OpenStore(cmd.Context(), cfg)
					if err != nil {
						return err
					}
					defer func() { _ = closeFn() }()
					st = opened
				}
				if err := app.RunMigrations(cfg, st, dir); err != nil {
					return fmt.Errorf("migrate %s: %w", dir, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: ok\n", dir)
				return nil
			},
		})
	}
	return cmd
}

func recomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild patient balances from bills and payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient")
			all, _ := cmd.Flags().GetBool("all")
			if (patientID == "") == !all {
				return errors.New("pass exactly one of --patient or --all")
			}
			return withDeps(cmd, func(deps *app.Dependencies) error {
				svc := deps.Billing(deps.Bus())
				out := cmd.OutOrStdout()
				if all {
					repaired, err := svc.RecomputeAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "repaired %d patients\n", repaired)
					return nil
				}
				totals, repaired, err := svc.RecomputePatient(cmd.Context(), patientID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "patient %s: total_cost=%s pending=%s repaired=%t\n",
					patientID, totals.TotalCost.StringFixed(2), totals.PendingAmount.StringFixed(2), repaired)
				return nil
			})
		},
	}
	cmd.Flags().String("patient", "", "Patient id to recompute")
	cmd.Flags().Bool("all", false, "Recompute every patient")
	return cmd
}

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Render a bill's invoice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetString("patient")
			billID, _ := cmd.Flags().GetString("bill")
			asJSON, _ := cmd.Flags().GetBool("json")
			return withDeps(cmd, func(deps *app.Dependencies) error {
				doc, err := deps.Billing(nil).RenderInvoice(cmd.Context(), patientID, billID)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(doc)
				}
				return invoice.Render(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().String("patient", "", "Patient id")
	cmd.Flags().String("bill", "", "Bill id")
	cmd.Flags().Bool("json", false, "Print the invoice document as JSON")
	_ = cmd.MarkFlagRequired("patient")
	_ = cmd.MarkFlagRequired("bill")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed operator token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(auth.Config{
				Secret:    cfg.AuthSecret,
				Issuer:    cfg.AuthIssuer,
				Audience:  cfg.AuthAudience,
				ClockSkew: cfg.AuthClockSkew,
				TTL:       cfg.AuthTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expires, err := tokens.Issue(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expires.UTC().Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().String("subject", "", "Operator id placed in the sub claim")
	issue.Flags().String("role", auth.RoleFrontDesk, "Operator role (frontdesk or admin)")
	_ = issue.MarkFlagRequired("subject")
	cmd.AddCommand(issue)
	return cmd
}
