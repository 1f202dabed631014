package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/puzzle/script"
	"puzzlerace/internal/puzzle/sudoku"
	"puzzlerace/internal/puzzle/wordgrid"
	"puzzlerace/internal/server"
	"puzzlerace/internal/session"
	"puzzlerace/internal/storage"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	DBPath          string        `env:"DB_PATH"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1m"`
	SessionMaxAge   time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	ScriptDir       string        `env:"SCRIPT_DIR"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse environment: %v", err)
	}

	var store storage.Store
	if cfg.DBPath == "" {
		store = storage.NewMemory()
		log.Printf("using in-memory store; sessions will not survive a restart")
	} else {
		s, err := storage.NewSQLite(cfg.DBPath)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		store = s
	}
	defer store.Close()

	registry := puzzle.NewRegistry()
	registry.Register(sudoku.Sudoku{})
	registry.Register(wordgrid.WordGrid{})
	if sample, err := script.Sample(); err != nil {
		log.Printf("warning: load sample script: %v", err)
	} else {
		registry.Register(sample)
	}
	if cfg.ScriptDir != "" {
		if err := loadScripts(registry, cfg.ScriptDir); err != nil {
			log.Fatalf("load scripts: %v", err)
		}
	}

	catalog := powerup.Default()
	mgr := session.NewManager(store, registry, catalog, nil)

	go mgr.CleanupLoop(context.Background(), cfg.CleanupInterval, cfg.SessionMaxAge)

	srv := server.New(store, registry, catalog, mgr)

	addr := ":" + cfg.Port
	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, srv); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// loadScripts registers every .lua puzzle found in dir.
func loadScripts(registry *puzzle.Registry, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		p, err := script.LoadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		registry.Register(p)
		log.Printf("registered scripted puzzle %q from %s", p.Info().ID, path)
	}
	return nil
}
