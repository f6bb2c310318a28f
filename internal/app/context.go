package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"tripauth/internal/config"
	"tripauth/internal/db"
	"tripauth/internal/engine"
	"tripauth/internal/logging"
	"tripauth/internal/migrate"
)

// Runtime bundles what a command or server needs for one workspace.
type Runtime struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Log       *logrus.Logger
}

func (r Runtime) Close() error {
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open loads the workspace config (falling back to defaults), opens and
// migrates the database and builds the engine. format/level override the
// config's log section when non-empty.
func Open(ctx context.Context, workspace, level, format string) (Runtime, error) {
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return Runtime{}, err
	}
	if level == "" {
		level = cfg.Log.Level
	}
	if format == "" {
		format = cfg.Log.Format
	}
	log := logging.New(logging.Options{Level: level, Format: format})
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return Runtime{}, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return Runtime{}, fmt.Errorf("migrate: %w", err)
	}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return Runtime{}, err
	}
	eng.Log = log
	log.WithFields(logrus.Fields{"workspace": workspace, "db": db.Path(workspace)}).Debug("workspace opened")
	return Runtime{Workspace: workspace, DB: conn, Config: cfg, Engine: eng, Log: log}, nil
}
