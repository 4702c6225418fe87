package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	templatesrepo "github.com/dehesalabs/trazar/domains/templates/be/repo"
	templatesservice "github.com/dehesalabs/trazar/domains/templates/be/service"
	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// Command groups bootstrap helpers (schema DDL, template seeding).
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap database resources (schema, lot-field template)",
		Long:  "Bootstrap database resources such as the core schema and the organization lot-field template.",
	}

	cmd.AddCommand(schemaCommand())
	cmd.AddCommand(templateCommand())
	return cmd
}

func schemaCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "schema",
		Short: "Apply the core schema DDL",
		Long:  "Apply the embedded core schema DDL (lots, zones, stays, snapshots, readings, templates). Statements are idempotent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapCoreSchema(ctx, pool); err != nil {
				return fmt.Errorf("apply core schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Core schema applied.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")

	return c
}

func templateCommand() *cobra.Command {
	var (
		databaseURL string
		fieldsFile  string
	)

	c := &cobra.Command{
		Use:   "template",
		Short: "Seed the organization lot-field template",
		Long:  "Seed the singleton lot custom-field template. Reads field definitions from a JSON file, or stores an empty template when no file is given. Re-running replaces the fields and bumps the version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			fields := []persistence.FieldDefinition{}
			if fieldsFile != "" {
				raw, err := os.ReadFile(fieldsFile)
				if err != nil {
					return fmt.Errorf("read fields file: %w", err)
				}
				if err := json.Unmarshal(raw, &fields); err != nil {
					return fmt.Errorf("parse fields file: %w", err)
				}
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			templateStore, err := persistence.NewTemplateStore(pool)
			if err != nil {
				return fmt.Errorf("init template store: %w", err)
			}

			svc := templatesservice.New(templatesrepo.NewPostgresRepository(templateStore))

			template, err := svc.Put(ctx, fields)
			if err != nil {
				var validationErr *templatesservice.ValidationError
				if errors.As(err, &validationErr) {
					return fmt.Errorf("invalid field definitions: %w", validationErr)
				}
				return fmt.Errorf("store template: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Template stored. Version: %d | Fields: %d\n", template.Version, len(template.Fields))
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&fieldsFile, "fields-file", "", "JSON file with field definitions (optional)")
	_ = c.MarkFlagRequired("database-url")

	return c
}
