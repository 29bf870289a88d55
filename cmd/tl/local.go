package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/ledger"
	"taskline/internal/repo"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create taskline.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Wrote %s\n", path)
			} else if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Fprintf(stdout, "Database ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Local ledger sheets",
		Long:  "Sheets stored in the workspace database. Their URLs can be passed to 'tl configure --ledger-url'.",
	}
	cmd.AddCommand(ledgerInitCmd())
	cmd.AddCommand(ledgerShowCmd())
	return cmd
}

func ledgerInitCmd() *cobra.Command {
	var id, worksheet string
	var rows int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sheet with numbered task rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows < 1 {
				return fmt.Errorf("--rows must be at least 1")
			}
			if id == "" {
				id = uuid.NewString()
			}
			if worksheet == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				worksheet = cfg.Ledger.Worksheet
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.CreateSheet(ctx, id, worksheet, repo.SheetHeader, make([][]string, rows)); err != nil {
					return err
				}
				out := map[string]any{"id": id, "worksheet": worksheet, "rows": rows, "url": sheetURL(id)}
				return printJSONOrTable(out, func(w io.Writer) {
					fmt.Fprintf(w, "Created sheet %s with %d task rows\n%s\n", id, rows, sheetURL(id))
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "sheet id (generated when empty)")
	cmd.Flags().IntVar(&rows, "rows", 0, "number of task rows")
	cmd.Flags().StringVar(&worksheet, "worksheet", "", "worksheet title (defaults to ledger.worksheet)")
	return cmd
}

func ledgerShowCmd() *cobra.Command {
	var id, url, worksheet string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url != "" {
				sheetID, ok := ledger.ExtractSheetID(url)
				if !ok {
					return ledger.ErrInvalidURL
				}
				id = sheetID
			}
			if id == "" {
				return fmt.Errorf("--id or --url required")
			}
			if worksheet == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				worksheet = cfg.Ledger.Worksheet
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rows, err := r.SheetRows(ctx, id, worksheet)
				if err != nil {
					return err
				}
				return printJSONOrTable(rows, func(w io.Writer) { renderSheet(w, rows) })
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "sheet id")
	cmd.Flags().StringVar(&url, "url", "", "sheet URL")
	cmd.Flags().StringVar(&worksheet, "worksheet", "", "worksheet title (defaults to ledger.worksheet)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: commands, rounds, winners, revocations and claims.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEventsFrom(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if events == nil {
					events = []domain.Event{}
				}
				return printJSONOrTable(events, func(w io.Writer) { renderEvents(w, events) })
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type, e.g. winner.processed")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind, e.g. round")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Manage API keys for the HTTP API",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(actor) == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key, secret, err := r.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret, "created_at": key.CreatedAt}
				return printJSONOrTable(out, func(w io.Writer) {
					fmt.Fprintf(w, "Created key %s for %s\n%s\n", key.ID, key.ActorID, secret)
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys, func(w io.Writer) { renderAPIKeys(w, keys) })
			})
		},
	}
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
