package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tl",
		Short: "Taskline CLI",
		Long: `Taskline hands out numbered tasks in timed claim rounds.
Core concepts:
- Round: an announcement that stays open for a short claim window; the earliest claimants win.
- Cursor: the next unassigned task number; it only moves when a round dispatches.
- Winner: gets the task privilege, a message with the task number, and a row in the ledger.
- Revocation: the privilege is taken back after the configured delay.
- Ledger: the spreadsheet where the winner's name is written next to the task number.
- Event log: every round, winner and command, view with 'tl log tail'.

Commands that drive allocation (configure, start, stop, status, claim, verify) talk to a
running 'tl serve'. 'tl run' drives a single allocation in the foreground with the console sink.`,
		SilenceUsage: true,
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/taskline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("server", "", "API server URL (defaults to http://<server.addr> from config)")
	flags.String("api-key", "", "API key for the server")
	flags.String("token", "", "bearer token for the server")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "server", "api-key", "token"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(configureCmd())
	root.AddCommand(startCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(claimCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(ledgerCmd())
	root.AddCommand(logCmd())
	root.AddCommand(apiKeyCmd())
}
