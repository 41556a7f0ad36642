package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
	"github.com/nerrad567/gray-logic-resgraph/internal/schema"
)

// newMigrateCmd applies or rolls back SQLite migrations.
func newMigrateCmd(configPath *string) *cobra.Command {
	var down, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Database.Path == "" {
				return fmt.Errorf("database.path is not set")
			}
			db, err := database.Open(database.ConfigFrom(cfg.Database))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // Nothing to recover on close

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case status:
			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "rolled back latest migration")
			default:
				if err := db.Migrate(ctx); err != nil {
					return err
				}
			}

			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the latest migration")
	cmd.Flags().BoolVar(&status, "status", false, "only print migration status")
	return cmd
}

// newSchemaCmd groups schema file tooling.
func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with type and pattern definition files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE...",
		Short: "Validate definition files without starting the service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := schema.LoadFiles(args)
			if err != nil {
				return err
			}
			res, err := schema.Apply(resource.NewTypes(), pattern.NewCatalog(), files)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "types:    %s\n", strings.Join(res.Types, ", "))
			fmt.Fprintf(out, "patterns: %s\n", strings.Join(res.Patterns, ", "))
			return err
		},
	})
	return cmd
}

// newTokenCmd issues a consumer access token signed with the configured secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		role  string
		scope []string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue an access token for a consumer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttl == 0 {
				ttl = cfg.GetAccessTokenTTL()
			}
			tok, err := auth.GenerateAccessToken(args[0], auth.Role(role), scope, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator, admin or owner")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "restrict the token to these path prefixes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	return cmd
}
