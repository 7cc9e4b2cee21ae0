package fsm

import (
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/storage"
	"go.uber.org/multierr"
)

// RecordArtifact writes the outcome for path to the ledger. With a nil cause
// the file is hashed and recorded as built, otherwise it is recorded as
// failed. A row already held for path is updated in place and loses its
// remote key.
func RecordArtifact(repo *db.Repository, path, kind string, cause error) (*db.Artifact, error) {
	a := &db.Artifact{Path: path, Kind: kind, Status: db.StatusBuilt}
	if cause != nil {
		a.Status = db.StatusFailed
		a.ErrorMessage = cause.Error()
	} else {
		sum, size, err := storage.FileDigest(path)
		if err != nil {
			return nil, err
		}
		a.SHA256, a.Size = sum, size
	}

	existing, err := repo.GetByPath(path)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := repo.Record(a); err != nil {
			return nil, err
		}
		return a, nil
	}

	a.ID = existing.ID
	if err := repo.Update(a); err != nil {
		return nil, err
	}
	return a, nil
}

// RecordFailure records path as failed and returns cause, joined with the
// ledger error when the record could not be written.
func RecordFailure(repo *db.Repository, path, kind string, cause error) error {
	_, err := RecordArtifact(repo, path, kind, cause)
	return multierr.Append(cause, err)
}
