// Package main 是经销商平台的数据库迁移命令行工具
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/config"
	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/logger"
)

const usage = `Usage: migrate -action=up|down|version|force [-steps N] [-target V] [-dir PATH]

  migrate -action=up                   # apply all pending migrations
  migrate -action=down -steps=1        # roll back one migration
  migrate -action=version -target=3    # migrate up or down to version 3
  migrate -action=force -target=2      # clear dirty state at version 2
`

func main() {
	var (
		action = flag.String("action", "up", "up, down, version or force")
		steps  = flag.Int("steps", 1, "steps to roll back for -action=down")
		target = flag.Uint("target", 0, "target version for -action=version|force")
		dir    = flag.String("dir", "", "migrations directory (default MIGRATIONS_DIR)")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "migrate", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	migrationsDir := cfg.Migrations.Dir
	if *dir != "" {
		migrationsDir = *dir
	}

	run, ok := actions(*steps, *target)[*action]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}

	db, err := database.New(cfg, lg)
	if err != nil {
		lg.Fatal("connect database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Error("close database", zap.Error(err))
		}
	}()

	lg.Info("migration started",
		zap.String("action", *action),
		zap.String("dir", migrationsDir),
		zap.Int("steps", *steps),
		zap.Uint("target", *target))
	if err := run(db, migrationsDir); err != nil {
		lg.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
	lg.Info("migration finished", zap.String("action", *action))
}

type migration func(db *database.DB, dir string) error

func actions(steps int, target uint) map[string]migration {
	return map[string]migration{
		"up": func(db *database.DB, dir string) error {
			return db.RunMigrations(dir)
		},
		"down": func(db *database.DB, dir string) error {
			return db.MigrateDown(dir, steps)
		},
		"version": func(db *database.DB, dir string) error {
			if target == 0 {
				return fmt.Errorf("-target is required for -action=version")
			}
			return db.MigrateToVersion(dir, target)
		},
		// force 允许 target=0，表示回到未迁移状态
		"force": func(db *database.DB, dir string) error {
			return db.ForceMigrationVersion(dir, target)
		},
	}
}
