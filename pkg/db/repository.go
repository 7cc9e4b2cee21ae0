package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ws63-tools/fwpack/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for artifacts
type Repository struct {
	db *sql.DB
}

// NewRepository opens the ledger at dbPath and creates the schema.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

const selectColumns = `
	SELECT id, path, kind, sha256, size, status, remote_key, error_message, created_at, updated_at
	FROM artifacts`

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*Artifact, error) {
	var a Artifact
	var remoteKey, errorMessage sql.NullString
	err := s.Scan(&a.ID, &a.Path, &a.Kind, &a.SHA256, &a.Size, &a.Status,
		&remoteKey, &errorMessage, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.RemoteKey = remoteKey.String
	a.ErrorMessage = errorMessage.String
	return &a, nil
}

// Record inserts an artifact, or refreshes the existing row for the same
// path. A rebuilt artifact loses its previous remote key.
func (r *Repository) Record(a *Artifact) error {
	slog.Info("database_record_artifact", "path", a.Path, "kind", a.Kind, "status", a.Status)

	query := `
		INSERT INTO artifacts (path, kind, sha256, size, status, remote_key, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		    kind = excluded.kind, sha256 = excluded.sha256, size = excluded.size,
		    status = excluded.status, remote_key = excluded.remote_key,
		    error_message = excluded.error_message, updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`
	err := r.db.QueryRow(query,
		a.Path, a.Kind, a.SHA256, a.Size, a.Status, a.RemoteKey, a.ErrorMessage).Scan(&a.ID)
	if err != nil {
		slog.Error("database_insert_failed", "path", a.Path, "error", err)
		return errors.Wrap(err, "failed to record artifact")
	}

	slog.Info("database_artifact_recorded", "path", a.Path, "artifact_id", a.ID, "status", a.Status)
	return nil
}

// GetByPath retrieves an artifact by path. It returns nil, nil when absent.
func (r *Repository) GetByPath(path string) (*Artifact, error) {
	a, err := scanArtifact(r.db.QueryRow(selectColumns+` WHERE path = ?`, path))
	if err == sql.ErrNoRows {
		slog.Info("database_artifact_not_found", "path", path)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "path", path, "error", err)
		return nil, errors.Wrap(err, "failed to query artifact")
	}
	return a, nil
}

// Update updates an existing artifact record
func (r *Repository) Update(a *Artifact) error {
	slog.Info("database_update_artifact", "artifact_id", a.ID, "path", a.Path, "status", a.Status)

	query := `
		UPDATE artifacts
		SET kind = ?, sha256 = ?, size = ?, status = ?, remote_key = ?, error_message = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		a.Kind, a.SHA256, a.Size, a.Status, a.RemoteKey, a.ErrorMessage, a.ID)
	if err != nil {
		slog.Error("database_update_failed", "artifact_id", a.ID, "error", err)
		return errors.Wrap(err, "failed to update artifact")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_artifact_not_found_for_update", "artifact_id", a.ID)
		return fmt.Errorf("artifact not found: id=%d", a.ID)
	}
	return nil
}

// UpdateStatus updates only the status and error fields
func (r *Repository) UpdateStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "artifact_id", id, "status", status)

	query := `UPDATE artifacts SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_status_update_failed", "artifact_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// MarkPublished records the remote key of an uploaded artifact.
func (r *Repository) MarkPublished(id int64, remoteKey string) error {
	query := `UPDATE artifacts SET status = ?, remote_key = ?, error_message = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, StatusPublished, remoteKey, id); err != nil {
		slog.Error("database_publish_update_failed", "artifact_id", id, "error", err)
		return errors.Wrap(err, "failed to mark published")
	}
	slog.Info("database_artifact_published", "artifact_id", id, "remote_key", remoteKey)
	return nil
}

// List retrieves all artifacts, newest first.
func (r *Repository) List() ([]*Artifact, error) {
	return r.query(selectColumns + ` ORDER BY created_at DESC, id DESC`)
}

// ListByStatus retrieves the artifacts in status, oldest first.
func (r *Repository) ListByStatus(status string) ([]*Artifact, error) {
	return r.query(selectColumns+` WHERE status = ? ORDER BY id`, status)
}

func (r *Repository) query(q string, args ...any) ([]*Artifact, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "artifact_count", len(artifacts))
	return artifacts, nil
}

// Delete deletes an artifact by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_artifact", "artifact_id", id)

	if _, err := r.db.Exec(`DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "artifact_id", id, "error", err)
		return errors.Wrap(err, "failed to delete artifact")
	}
	return nil
}
