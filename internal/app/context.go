// Package app assembles a goose workspace: config, logging, telemetry,
// database and engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"goose/internal/config"
	"goose/internal/db"
	"goose/internal/engine"
	"goose/internal/logging"
	"goose/internal/migrate"
	"goose/internal/repo"
	"goose/internal/server"
	"goose/internal/telemetry"
)

const serviceName = "goose"

// Version is stamped into telemetry resources.
var Version = "dev"

// Options controls how a workspace is opened.
type Options struct {
	Workspace string
	// LogOutput receives log lines; nil means stderr.
	LogOutput io.Writer
	// TraceOutput receives exported spans; nil lets telemetry pick.
	TraceOutput io.Writer
}

// App is an opened workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Log       zerolog.Logger
	DB        *sql.DB
	Repo      repo.Repo
	Engine    engine.Engine

	shutdown telemetry.ShutdownFunc
}

// Open loads goose.yml (defaults when absent), configures logging and
// telemetry, opens and migrates the database and wires the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	log, err := logging.New(cfg.Log, out)
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, serviceName, Version, opts.TraceOutput)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		shutdown(ctx)
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug().Int("schema_version", version).Str("db", db.Path(opts.Workspace)).Msg("workspace opened")

	r := repo.Repo{DB: conn}
	return &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		Log:       log,
		DB:        conn,
		Repo:      r,
		Engine:    engine.New(r, cfg.Workflow, log),
		shutdown:  shutdown,
	}, nil
}

// ServerConfig derives the HTTP handler config from the workspace config.
func (a *App) ServerConfig() server.Config {
	return server.Config{
		Engine:   a.Engine,
		BasePath: a.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:              a.Config.Auth.JWTSecret,
			AllowLegacyActorHeader: a.Config.Auth.AllowLegacyActorHeader,
			DevLogin:               a.Config.Auth.DevLogin,
			TokenTTL:               a.Config.Auth.TokenTTL,
			Keys:                   a.Repo,
			Logger:                 a.Log,
		},
		Logger: a.Log,
	}
}

// Close flushes telemetry and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
