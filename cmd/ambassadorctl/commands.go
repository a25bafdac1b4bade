package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"skills-studio/config"
	"skills-studio/database"
	"skills-studio/logger"
	"skills-studio/models"
	"skills-studio/repository"
	"skills-studio/services"
	"skills-studio/workers"
)

// env is what every command needs: the store and the services built on it.
type env struct {
	cfg         *config.Config
	log         *zap.Logger
	db          *gorm.DB
	repo        *repository.Repository
	ledger      *services.LedgerService
	ambassadors *services.AmbassadorService
}

func openEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// operators read results on stdout; keep logs on stderr and quiet
	cfg.Log.Format = "console"
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	cfg.Database.AutoMigrate = false
	db, err := database.Open(cfg.Database, zlog)
	if err != nil {
		return nil, err
	}

	repo := repository.New(db)
	ledger := services.NewLedgerService(repo, zlog)
	ambassadors := services.NewAmbassadorService(repo, services.NewStripeConnect(cfg.Stripe.SecretKey), ledger, services.ProgramSettings{
		QualifyingPlans: cfg.Program.QualifyingPlans,
		MinProofLinks:   cfg.Program.MinProofLinks,
		PublicURL:       cfg.Server.PublicURL,
		ReturnURL:       cfg.ConnectReturnURL(),
		RefreshURL:      cfg.ConnectRefreshURL(),
	}, zlog)

	return &env{cfg: cfg, log: zlog, db: db, repo: repo, ledger: ledger, ambassadors: ambassadors}, nil
}

func (e *env) close() {
	_ = database.Close(e.db)
	_ = e.log.Sync()
}

// withEnv runs fn against a freshly opened environment.
func withEnv(fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd.Context(), e, cmd, args)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func advanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <user-id>",
		Short: "Move an ambassador one onboarding step forward, skipping gate checks",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			before, err := e.repo.Ambassadors.GetByUserID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ambassador %s: %w", args[0], err)
			}
			after, err := e.ambassadors.Advance(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", after.UserID, before.OnboardingStep, after.OnboardingStep)
			return nil
		}),
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-verification [user-id]",
		Short: "Re-check payout verification for one ambassador, or all pending with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all {
				sweeper := workers.NewVerificationSweeper(e.repo.Ambassadors, e.ambassadors, 0, e.log)
				promoted := sweeper.RunOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "promoted %d ambassador(s)\n", promoted)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("a user id or --all is required")
			}
			a, err := e.ambassadors.SyncUser(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.UserID, a.OnboardingStep)
			return nil
		}),
	}
	cmd.Flags().Bool("all", false, "sync every ambassador waiting on verification")
	return cmd
}

func accrueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Append a commission entry for an ambassador",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			in, err := accrueInputFromFlags(cmd)
			if err != nil {
				return err
			}
			if in.AmbassadorID == "" {
				userID, _ := cmd.Flags().GetString("user")
				a, err := e.repo.Ambassadors.GetByUserID(ctx, userID)
				if err != nil {
					return fmt.Errorf("ambassador for user %s: %w", userID, err)
				}
				in.AmbassadorID = a.ID
			}
			c, created, err := e.ledger.Accrue(ctx, in)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(cmd.ErrOrStderr(), "idempotency key already used; existing entry returned")
			}
			return printJSON(cmd.OutOrStdout(), c)
		}),
	}
	cmd.Flags().String("ambassador", "", "ambassador id")
	cmd.Flags().String("user", "", "ambassador user id (alternative to --ambassador)")
	cmd.Flags().Int64("amount", 0, "amount in cents")
	cmd.Flags().String("status", string(models.CommissionPending), "pending or paid")
	cmd.Flags().String("key", "", "idempotency key")
	cmd.Flags().String("source", "manual", "free-form origin of the entry")
	return cmd
}

func accrueInputFromFlags(cmd *cobra.Command) (services.AccrueInput, error) {
	ambassadorID, _ := cmd.Flags().GetString("ambassador")
	userID, _ := cmd.Flags().GetString("user")
	if ambassadorID == "" && userID == "" {
		return services.AccrueInput{}, fmt.Errorf("--ambassador or --user is required")
	}
	amount, _ := cmd.Flags().GetInt64("amount")
	status, _ := cmd.Flags().GetString("status")
	key, _ := cmd.Flags().GetString("key")
	source, _ := cmd.Flags().GetString("source")
	return services.AccrueInput{
		AmbassadorID:   ambassadorID,
		AmountCents:    amount,
		Status:         models.CommissionStatus(strings.ToLower(status)),
		IdempotencyKey: key,
		Source:         source,
	}, nil
}

func markPaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-paid <commission-id>...",
		Short: "Mark pending commission entries as paid",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			n, err := e.ledger.MarkPaid(ctx, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d of %d entries paid\n", n, len(args))
			return nil
		}),
	}
}

func setPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-plan <user-id>",
		Short: "Override a member's plan, e.g. for comped Pro accounts",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			plan, _ := cmd.Flags().GetString("plan")
			status, _ := cmd.Flags().GetString("status")
			email, _ := cmd.Flags().GetString("email")

			m, err := e.repo.Members.GetByUserID(ctx, args[0])
			if err != nil {
				m = &models.Member{UserID: args[0]}
			}
			m.Plan = plan
			m.SubscriptionStatus = status
			if email != "" {
				m.Email = email
			}
			if err := e.repo.Members.Upsert(ctx, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: plan=%s status=%s\n", m.UserID, m.Plan, m.SubscriptionStatus)
			return nil
		}),
	}
	cmd.Flags().String("plan", models.PlanPro, "plan name")
	cmd.Flags().String("status", models.SubscriptionActive, "subscription status")
	cmd.Flags().String("email", "", "member email")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <user-id>",
		Short: "Print an ambassador's onboarding step and ledger summary",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			a, err := e.repo.Ambassadors.GetByUserID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ambassador for user %s: %w", args[0], err)
			}
			sum, err := e.ledger.Summarize(ctx, a.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"ambassador_id":   a.ID,
				"user_id":         a.UserID,
				"onboarding_step": a.OnboardingStep.String(),
				"referral_code":   a.Code(),
				"summary":         sum,
			})
		}),
	}
}
