package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/allocation"
	"taskline/internal/app"
	"taskline/internal/engine"
	"taskline/internal/ledger"
	"taskline/internal/repo"
	"taskline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the allocator behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv(cfg.Auth.JWTSecretEnv),
				DevLogin:               cfg.Auth.DevLogin,
				AllowLegacyActorHeader: cfg.Auth.AllowActorHeader,
			}
			if authCfg.JWTSecret == "" && cfg.Auth.DevLogin {
				return fmt.Errorf("%s is required when auth.dev_login is enabled", cfg.Auth.JWTSecretEnv)
			}

			ctx := cmd.Context()
			rt, err := app.Build(ctx, app.Options{Workspace: viper.GetString("workspace"), Config: cfg})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			authCfg.Logger = rt.Logger
			if authCfg.JWTSecret == "" {
				rt.Logger.Printf("%s not set; bearer tokens are rejected", cfg.Auth.JWTSecretEnv)
			}

			sc := server.Config{
				Engine:   rt.Engine,
				Repo:     rt.Repo,
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Logger:   rt.Logger,
			}
			if cfg.Metrics.Enabled {
				sc.Metrics = rt.Metrics
				sc.MetricsPath = cfg.Metrics.Path
			}
			handler, err := server.New(sc)
			if err != nil {
				return err
			}

			hooks := server.NewWebhookDispatcher(rt.Repo, cfg.Webhooks, rt.Logger)
			hooks.Prime(ctx)
			go hooks.Run(ctx)

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Fprintf(stdout, "Serving Taskline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides server.base_path)")
	return cmd
}

type runOptions struct {
	tasks      int
	taskType   string
	winners    int
	interval   int
	window     int
	revocation int
	ledgerURL  string
	claimants  string
	poll       time.Duration
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one allocation in the foreground",
		Long: `Runs an allocation in-process until every task is handed out or the command is
interrupted. Without --ledger-url a local sheet is created in the workspace database.
--claimants claims every round on behalf of the listed participants.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocation(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.tasks, "tasks", 0, "number of tasks to hand out")
	cmd.Flags().StringVar(&opts.taskType, "type", "", "task type: post, upvote, comment or poll vote")
	cmd.Flags().IntVar(&opts.winners, "winners", 0, "winners per round (1-20)")
	cmd.Flags().IntVar(&opts.interval, "interval", 0, "minutes between rounds")
	cmd.Flags().IntVar(&opts.window, "window", 0, "claim window in seconds (1-60)")
	cmd.Flags().IntVar(&opts.revocation, "revocation-hours", 0, "hours before the task privilege is revoked")
	cmd.Flags().StringVar(&opts.ledgerURL, "ledger-url", "", "spreadsheet URL; defaults to a new local sheet")
	cmd.Flags().StringVar(&opts.claimants, "claimants", "", "comma-separated participants that claim each round")
	cmd.Flags().DurationVar(&opts.poll, "poll", 200*time.Millisecond, "status poll interval")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func runAllocation(ctx context.Context, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Build(ctx, app.Options{Workspace: viper.GetString("workspace"), Config: cfg, Out: stdout})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	actor := viper.GetString("actor-id")

	ledgerURL := opts.ledgerURL
	localSheet := ""
	if ledgerURL == "" {
		localSheet = "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if err := rt.Repo.CreateSheet(ctx, localSheet, cfg.Ledger.Worksheet, repo.SheetHeader, make([][]string, opts.tasks)); err != nil {
			return err
		}
		ledgerURL = sheetURL(localSheet)
	} else if id, ok := ledger.ExtractSheetID(ledgerURL); ok {
		localSheet = id
	}

	if _, err := rt.Engine.Configure(ctx, actor, engine.ConfigureOptions{
		IntervalMinutes: opts.interval,
		WindowSeconds:   opts.window,
		RevocationHours: opts.revocation,
		LedgerURL:       ledgerURL,
	}); err != nil {
		return err
	}
	if _, err := rt.Engine.StartAllocation(ctx, actor, engine.StartOptions{
		TotalTasks:      opts.tasks,
		TaskType:        opts.taskType,
		WinnersPerRound: opts.winners,
	}); err != nil {
		return err
	}

	claimants := splitList(opts.claimants)
	claimed := map[string]bool{}
	ticker := time.NewTicker(opts.poll)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			if _, err := rt.Engine.Stop(context.Background(), actor); err != nil && !errors.Is(err, allocation.ErrNotRunning) {
				return err
			}
			break wait
		case <-ticker.C:
		}
		st := rt.Engine.Snapshot()
		if r := st.ActiveRound; r != nil && r.ID != "" && !claimed[r.ID] {
			claimed[r.ID] = true
			for _, p := range claimants {
				if _, err := rt.Engine.RegisterClaim(ctx, actor, engine.ClaimInput{RoundID: r.ID, ParticipantID: p}); err != nil {
					rt.Logger.Printf("claim %s for %s: %v", r.ID, p, err)
				}
			}
		}
		if !st.State.Running {
			break
		}
	}

	renderStatus(stdout, statusView(rt.Engine.Snapshot()))
	if localSheet != "" {
		printLocalSheet(context.Background(), rt.Repo, localSheet, cfg.Ledger.Worksheet, stdout)
	}
	return nil
}

func printLocalSheet(ctx context.Context, r repo.Repo, id, worksheet string, w io.Writer) {
	rows, err := r.SheetRows(ctx, id, worksheet)
	if err != nil {
		return
	}
	renderSheet(w, rows)
}
