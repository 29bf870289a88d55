package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	tasklinesdk "taskline/sdk/go"
)

var stdout io.Writer = os.Stdout

func loadConfig() (*config.Config, error) {
	return app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// remoteClient builds an API client from flags, TASKLINE_* env vars and the
// workspace config.
func remoteClient() (*tasklinesdk.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	server := strings.TrimSpace(viper.GetString("server"))
	if server == "" {
		server = "http://" + cfg.Server.Addr
	}
	c := tasklinesdk.New(server)
	c.BasePath = cfg.Server.BasePath
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	c.ActorID = viper.GetString("actor-id")
	return c, nil
}

func printJSONOrTable(v any, table func(io.Writer)) error {
	if viper.GetBool("json") || table == nil {
		return printJSON(v)
	}
	table(stdout)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sheetURL(id string) string {
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit", id)
}
