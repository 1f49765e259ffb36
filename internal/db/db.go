package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".envline"
	defaultDBName = "sandbox.db"
)

type Config struct {
	Workspace string
	// File overrides the database location inside the workspace directory.
	File string
}

func (c Config) path() string {
	if c.File != "" {
		return c.File
	}
	return filepath.Join(dir(c.Workspace), defaultDBName)
}

func dir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir)
}

// EnsureWorkspace creates the sandbox state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := dir(workspace)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the sandbox SQLite database with foreign keys on. Writers wait on
// a locked database instead of failing.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.File == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.path())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return Config{Workspace: workspace}.path()
}
