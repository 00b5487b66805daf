package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"discovery-flow/backend/internal/config"
	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/phase"
	"discovery-flow/backend/internal/repository"
	"discovery-flow/backend/internal/services"
	"discovery-flow/backend/pkg/models"
)

// flowctl is the operator CLI: schema migration, tenant seeding, and basic
// flow administration against a running database.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliEnv struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	store  *repository.PostgresFlowStore
	logger *logging.Logger
}

func (e *cliEnv) close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// tenantCtx scopes ctx to the tenant named by --tenant-domain, creating the
// tenant if it does not exist yet.
func (e *cliEnv) tenantCtx(ctx context.Context, domain string) (context.Context, error) {
	tenant, err := e.store.GetTenantByDomain(ctx, domain)
	if err != nil {
		e.logger.Info("Creating tenant", "domain", domain)
		tenant = &models.Tenant{Name: domain, Domain: domain}
		if err := e.store.CreateTenant(ctx, tenant); err != nil {
			return nil, fmt.Errorf("failed to create tenant: %w", err)
		}
	}
	return repository.WithTenant(ctx, tenant.ID), nil
}

func newRootCmd() *cobra.Command {
	var configFile string
	var tenantDomain string
	env := &cliEnv{}

	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Administer discovery flows",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger()
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			connStr := fmt.Sprintf(
				"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
			)
			pool, err := pgxpool.New(cmd.Context(), connStr)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			env.cfg = cfg
			env.pool = pool
			env.store = repository.NewPostgresFlowStore(pool)
			env.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			env.close()
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&tenantDomain, "tenant-domain", "localhost", "tenant domain to operate under")

	root.AddCommand(newMigrateCmd(env))
	root.AddCommand(newSeedCmd(env, &tenantDomain))
	root.AddCommand(newCreateCmd(env, &tenantDomain))
	root.AddCommand(newListCmd(env, &tenantDomain))
	root.AddCommand(newAdvanceCmd(env, &tenantDomain))
	return root
}

func newMigrateCmd(env *cliEnv) *cobra.Command {
	var schemaFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := os.ReadFile(schemaFile)
			if err != nil {
				return fmt.Errorf("failed to read schema: %w", err)
			}
			if _, err := env.pool.Exec(cmd.Context(), string(schema)); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
			env.logger.Info("Schema applied", "file", schemaFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaFile, "schema", "migrations/schema.sql", "path to schema file")
	return cmd
}

func newSeedCmd(env *cliEnv, tenantDomain *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Ensure the tenant exists and create a starter flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := env.tenantCtx(cmd.Context(), *tenantDomain)
			if err != nil {
				return err
			}
			flows := services.NewFlowService(env.store, env.logger)
			existing, err := flows.ListFlows(ctx)
			if err != nil {
				return fmt.Errorf("failed to list flows: %w", err)
			}
			if len(existing) > 0 {
				env.logger.Info("Tenant already has flows, skipping seed", "count", len(existing))
				return nil
			}
			flow, err := flows.CreateFlow(ctx, "seed-client")
			if err != nil {
				return fmt.Errorf("failed to create flow: %w", err)
			}
			env.logger.Info("Seeded flow", "flow_id", flow.FlowID)
			return nil
		},
	}
}

func newCreateCmd(env *cliEnv, tenantDomain *string) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new discovery flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := env.tenantCtx(cmd.Context(), *tenantDomain)
			if err != nil {
				return err
			}
			flows := services.NewFlowService(env.store, env.logger)
			flow, err := flows.CreateFlow(ctx, clientID)
			if err != nil {
				return fmt.Errorf("failed to create flow: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), flow.FlowID)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id for the flow")
	return cmd
}

func newListCmd(env *cliEnv, tenantDomain *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tenant's discovery flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := env.tenantCtx(cmd.Context(), *tenantDomain)
			if err != nil {
				return err
			}
			flows := services.NewFlowService(env.store, env.logger)
			records, err := flows.ListFlows(ctx)
			if err != nil {
				return fmt.Errorf("failed to list flows: %w", err)
			}
			for _, f := range records {
				current := "none"
				if f.CurrentPhase != nil {
					current = string(*f.CurrentPhase)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%.1f%%\n",
					f.FlowID, f.Status, current, f.ProgressPercentage)
			}
			return nil
		},
	}
}

func newAdvanceCmd(env *cliEnv, tenantDomain *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <flow-id> <target-phase>",
		Short: "Advance a flow to the given phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := env.tenantCtx(cmd.Context(), *tenantDomain)
			if err != nil {
				return err
			}
			coordinator := services.NewTransitionCoordinator(env.store, phase.Default(), env.logger)
			result, err := coordinator.AdvancePhase(ctx, args[0], models.Phase(args[1]), nil)
			if err != nil {
				return fmt.Errorf("failed to advance: %w", err)
			}
			if !result.Success {
				for _, w := range result.Warnings {
					fmt.Fprintln(cmd.ErrOrStderr(), w)
				}
				return fmt.Errorf("transition to %s rejected", args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "advanced to %s\n", args[1])
			return nil
		},
	}
	return cmd
}
