package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/outcomes/outcomes/internal/config"
	"github.com/outcomes/outcomes/internal/domain/measure"
	"github.com/outcomes/outcomes/internal/platform/db"
	"github.com/outcomes/outcomes/internal/platform/sweep"
)

// withPool loads config and opens a pool for one-shot admin commands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func schemaFlags(cmd *cobra.Command) {
	cmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	cmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
}

func migrator(cmd *cobra.Command, cfg *config.Config, pool *pgxpool.Pool) (*db.Migrator, string, error) {
	tenant, _ := cmd.Flags().GetString("tenant")
	dir, _ := cmd.Flags().GetString("dir")
	if !db.ValidTenantID(tenant) {
		return nil, "", fmt.Errorf("invalid tenant identifier: %s", tenant)
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	return db.NewMigrator(pool, dir), db.SchemaName(tenant), nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				m, schema, err := migrator(cmd, cfg, pool)
				if err != nil {
					return err
				}
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	schemaFlags(upCmd)
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				m, schema, err := migrator(cmd, cfg, pool)
				if err != nil {
					return err
				}
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	schemaFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				m, schema, err := migrator(cmd, cfg, pool)
				if err != nil {
					return err
				}
				rolled, err := m.Down(ctx, schema)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				if !rolled {
					fmt.Printf("No applied migrations in schema %s.\n", schema)
					return nil
				}
				fmt.Printf("Rolled back the latest migration in schema %s.\n", schema)
				return nil
			})
		},
	}
	schemaFlags(downCmd)
	cmd.AddCommand(downCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
					return err
				}
				fmt.Println("Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenant schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				tenants, err := db.ListTenants(ctx, pool)
				if err != nil {
					return err
				}
				for _, t := range tenants {
					fmt.Println(t)
				}
				return nil
			})
		},
	})
	return cmd
}

// sweepCmd runs one sweep in the foreground, for operators and external
// schedulers.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a flag or data quality sweep now",
	}
	for _, kind := range []string{sweep.KindFlags, sweep.KindQuality} {
		kind := kind
		sub := &cobra.Command{
			Use:   kind,
			Short: fmt.Sprintf("Sweep %s for one tenant or all tenants", kind),
			RunE: func(cmd *cobra.Command, args []string) error {
				tenant, _ := cmd.Flags().GetString("tenant")
				return runSweep(cmd.Context(), kind, tenant)
			},
		}
		sub.Flags().String("tenant", "", "Tenant to sweep (defaults to every tenant)")
		cmd.AddCommand(sub)
	}
	return cmd
}

func runSweep(ctx context.Context, kind, tenant string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	source := sweep.TenantSource(a.tenants)
	if tenant != "" {
		source = sweep.StaticTenants([]string{tenant})
	}
	stats := sweep.NewScheduler(a.runner, source, logger).RunAll(ctx, kind)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data",
	}
	core := &cobra.Command{
		Use:   "core10",
		Short: "Install the CORE-10 measure definition if the tenant has none",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				return db.WithTenant(ctx, pool, tenant, func(ctx context.Context) error {
					created, err := seedCORE10(ctx, measure.NewDefinitionRepoPG(pool), newLogger(cfg.Env))
					if err == nil && !created {
						fmt.Println("CORE-10 is already installed.")
					}
					return err
				})
			})
		},
	}
	core.Flags().String("tenant", "default", "Tenant to seed")
	cmd.AddCommand(core)
	return cmd
}
