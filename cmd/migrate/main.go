package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/nanophoto/nanophoto-backend/pkg/bootstrap"
	"github.com/nanophoto/nanophoto-backend/pkg/db"
	"github.com/nanophoto/nanophoto-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// schemaCommands need a postgres connection; file commands work on the tree.
var schemaCommands = map[string]func(ctx context.Context, conn *sql.DB, opts options) (string, error){
	"up": func(ctx context.Context, conn *sql.DB, opts options) (string, error) {
		applied, err := migrate.Up(ctx, conn, opts.dir)
		return fmt.Sprintf("applied %d migration(s)", len(applied)), err
	},
	"down": func(ctx context.Context, conn *sql.DB, opts options) (string, error) {
		version, err := migrate.Down(ctx, conn, opts.dir)
		return fmt.Sprintf("rolled back %d", version), err
	},
	"version": func(ctx context.Context, conn *sql.DB, opts options) (string, error) {
		if opts.version == "" {
			return "", errors.New("-version is required")
		}
		return "migrated to " + opts.version, migrate.MigrateToVersion(ctx, conn, opts.dir, opts.version)
	},
	"status": status,
}

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|version|seed|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory; empty uses the set compiled into this binary")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	rt := bootstrap.Start("migrate")
	defer rt.Close()
	logg := rt.Logger
	ctx := logg.WithFields(context.Background(), map[string]any{"env": rt.Config.App.Env, "cmd": *cmd})

	fileDir := opts.dir
	if fileDir == "" {
		fileDir = migrate.DefaultDir
	}
	switch *cmd {
	case "create":
		if opts.name == "" {
			rt.Must("create migration", errors.New("-name is required"))
		}
		path, err := migrate.CreateSQLMigration(fileDir, opts.name)
		rt.Must("create migration", err)
		fmt.Println("created", path)
		return
	case "validate":
		rt.Must("validate migrations", migrate.ValidateDir(fileDir))
		fmt.Println("migrations valid")
		return
	}

	run, known := schemaCommands[*cmd]
	if !known && *cmd != "seed" {
		rt.Must("dispatch", fmt.Errorf("unknown -cmd %q (have create, seed, validate, %s)", *cmd, strings.Join(commandNames(), ", ")))
	}

	// db.New rather than rt.OpenDB: dev auto-migration must not run here.
	client, err := db.New(ctx, rt.Config.DB, logg)
	rt.Must("connect database", err)
	rt.Defer("database", client)

	if *cmd == "seed" {
		rt.Must("seed settings", migrate.SeedSettings(ctx, client))
		logg.Info(ctx, "platform settings seeded")
		return
	}
	if !client.IsPostgres() {
		rt.Must(*cmd, errors.New("SQL migrations target postgres; sqlite is auto-migrated from models in dev"))
	}
	conn, err := client.DB().DB()
	rt.Must("sql handle", err)

	summary, err := run(ctx, conn, opts)
	rt.Must("migrate "+*cmd, err)
	logg.Info(ctx, summary)
}

func status(ctx context.Context, conn *sql.DB, opts options) (string, error) {
	statuses, err := migrate.Status(ctx, conn, opts.dir)
	if err != nil {
		return "", err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT")
	pending := 0
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		} else {
			pending++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", st.Source.Version, st.State, applied)
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d migration(s), %d pending", len(statuses), pending), nil
}

func commandNames() []string {
	names := make([]string, 0, len(schemaCommands))
	for name := range schemaCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
