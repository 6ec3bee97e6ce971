// Package app wires the pieces shared by the CLI and the HTTP server: config,
// logger, database and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/logging"
	"taskboard/internal/migrate"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
	Logger *zap.Logger

	closeLog func() error
}

// ResolveConfig loads taskboard.yml from workspace, falling back to defaults
// when the file is absent. The workspace argument always wins over the file.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Database.Workspace = workspace
	}
	return cfg, nil
}

// Open builds the logger, opens and migrates the database and returns a ready engine.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Database.Workspace})
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		_ = closeLog()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	version, err := migrate.Version(ctx, conn)
	if err != nil {
		conn.Close()
		_ = closeLog()
		return nil, err
	}
	logger.Debug("database ready",
		zap.String("path", db.Path(cfg.Database.Workspace)),
		zap.Int("schema_version", version))
	return &App{
		Config:   cfg,
		DB:       conn,
		Engine:   engine.New(conn, cfg),
		Logger:   logger,
		closeLog: closeLog,
	}, nil
}

func (a *App) Close() error {
	err := a.DB.Close()
	if a.closeLog != nil {
		if cerr := a.closeLog(); err == nil {
			err = cerr
		}
	}
	return err
}
