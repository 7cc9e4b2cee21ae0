package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ws63-tools/fwpack/internal/config"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
	appfsm "github.com/ws63-tools/fwpack/pkg/fsm"
	"github.com/ws63-tools/fwpack/pkg/storage"
)

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}
	return nil
}

// openLedger opens the artifact ledger, creating its directory.
func openLedger(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// newStorage returns the S3 client, or nil when no bucket is configured.
func newStorage(ctx context.Context, cfg *config.Config) (*storage.Client, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx, storage.Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Prefix:    cfg.S3Prefix,
		Anonymous: cfg.S3Anonymous,
	})
	if err != nil {
		return nil, errors.Wrap(err, "S3 client failed")
	}
	return client, nil
}

// recordArtifact hashes path and records it as built. Ledger failures are
// returned so a build is never reported without its record.
func recordArtifact(repo *db.Repository, path, kind string) (*db.Artifact, error) {
	return appfsm.RecordArtifact(repo, path, kind, nil)
}

// recordFailure records a failed artifact and returns cause, joined with any
// ledger error.
func recordFailure(repo *db.Repository, path, kind string, cause error) error {
	return appfsm.RecordFailure(repo, path, kind, cause)
}
