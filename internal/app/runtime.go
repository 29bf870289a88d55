package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"taskline/internal/allocation"
	"taskline/internal/claims"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/events"
	"taskline/internal/ledger"
	"taskline/internal/metrics"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/reputation"
	"taskline/internal/sink"
	"taskline/internal/tracing"
	"taskline/internal/verify"
)

// Version is reported by tracing resources and the CLI.
var Version = "dev"

// Options override pieces of the runtime; zero values are built from
// Config.
type Options struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Sink      sink.Sink
	Opener    ledger.Opener
	Lookup    reputation.Lookup
	// Out receives console sink output and log lines.
	Out    io.Writer
	Logger *log.Logger
	// WindowSleep replaces the claim window timer.
	WindowSleep func(ctx context.Context, d time.Duration) error
	Getenv      func(string) string
}

// Runtime is a fully wired allocator with its stores.
type Runtime struct {
	Config      *config.Config
	DB          *sql.DB
	Repo        repo.Repo
	Sink        sink.Sink
	Tracker     *claims.Tracker
	Ledger      *ledger.Client
	Revocations *allocation.RevocationSet
	Scheduler   *allocation.Scheduler
	Metrics     *metrics.Collector
	Journal     events.Writer
	Engine      *engine.Engine
	Logger      *log.Logger

	ownsDB  bool
	tracing bool
}

// LoadConfig reads file when set, otherwise the workspace's taskline.yml,
// falling back to defaults when neither exists.
func LoadConfig(workspace, file string) (*config.Config, error) {
	if file != "" {
		return config.FromFile(file)
	}
	return config.LoadOptional(workspace)
}

// Build opens the workspace database, applies migrations and wires every
// allocator component.
func Build(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = LoadConfig(opts.Workspace, ""); err != nil {
			return nil, err
		}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(out, "taskline ", log.LstdFlags)
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	conn := opts.DB
	if conn == nil {
		var err error
		conn, err = db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		rt.ownsDB = true
	}
	rt.DB = conn
	if err := migrate.Migrate(conn); err != nil {
		rt.closeDB()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rt.Repo = repo.Repo{DB: conn}

	if cfg.Tracing.Enabled {
		if err := tracing.Init("taskline", Version, cfg.Tracing.OutputFile); err != nil {
			rt.closeDB()
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		rt.tracing = true
	}

	rt.Sink = opts.Sink
	if rt.Sink == nil {
		s, err := buildSink(cfg.Sink, out, getenv)
		if err != nil {
			rt.closeDB()
			return nil, err
		}
		rt.Sink = s
	}

	opener := opts.Opener
	if opener == nil {
		opener = rt.Repo
	}
	rt.Ledger = ledger.NewClient(opener, logger)
	rt.Ledger.Column = cfg.Ledger.Column
	rt.Ledger.Worksheet = cfg.Ledger.Worksheet

	rt.Metrics = metrics.NewCollector()
	rt.Journal = events.Writer{Repo: rt.Repo, Logger: logger}
	recorder := allocation.Recorders{rt.Metrics, rt.Journal}

	rt.Tracker = claims.NewTracker()
	rt.Revocations = allocation.NewRevocationSet(rt.Sink, logger)
	rt.Revocations.Recorder = recorder
	runner := &allocation.Runner{
		Sink:    rt.Sink,
		Tracker: rt.Tracker,
		Pipeline: &allocation.Pipeline{
			Sink:         rt.Sink,
			Ledger:       rt.Ledger,
			Revocations:  rt.Revocations,
			Privilege:    cfg.Allocation.Privilege,
			Instructions: cfg.Allocation.Instructions,
			Logger:       logger,
			Recorder:     recorder,
		},
		Logger:   logger,
		Recorder: recorder,
		Sleep:    opts.WindowSleep,
	}
	rt.Scheduler = allocation.NewScheduler(runner, logger)
	rt.Scheduler.Recorder = recorder
	rt.Scheduler.Pending = rt.Revocations.Pending

	lookup := opts.Lookup
	if lookup == nil {
		lookup = reputation.NewClient(cfg.Reputation.BaseURL, cfg.Reputation.UserAgent)
	}
	rt.Engine = &engine.Engine{
		Scheduler: rt.Scheduler,
		Tracker:   rt.Tracker,
		Sink:      rt.Sink,
		Ledger:    rt.Ledger,
		Verifier: &verify.Service{
			Lookup:    lookup,
			Sink:      rt.Sink,
			Privilege: cfg.Reputation.Privilege,
			MinKarma:  cfg.Reputation.MinKarma,
			Logger:    logger,
		},
		Repo:     rt.Repo,
		Journal:  rt.Journal,
		Auth:     auth.Policy{Admins: cfg.Auth.Admins},
		Defaults: cfg.Allocation,
	}
	return rt, nil
}

func buildSink(cfg config.SinkConfig, out io.Writer, getenv func(string) string) (sink.Sink, error) {
	switch cfg.Kind {
	case "", "console":
		return sink.NewConsole(out), nil
	case "gateway":
		token := ""
		if cfg.TokenEnv != "" {
			token = getenv(cfg.TokenEnv)
		}
		g := sink.NewGateway(cfg.BaseURL, token)
		if cfg.TimeoutSeconds > 0 {
			g.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
}

// Close stops the scheduler, abandons pending revocations and releases the
// database.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.Scheduler.Close()
	rt.Revocations.Close()
	var errs []error
	if rt.tracing {
		errs = append(errs, tracing.Shutdown(ctx))
	}
	errs = append(errs, rt.closeDB())
	return errors.Join(errs...)
}

func (rt *Runtime) closeDB() error {
	if rt.ownsDB && rt.DB != nil {
		return rt.DB.Close()
	}
	return nil
}
