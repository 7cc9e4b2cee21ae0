package fsm

import (
	"context"
	"log/slog"
	"os"

	"github.com/superfly/fsm"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/efuse"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/layout"
	"github.com/ws63-tools/fwpack/pkg/security"
	"github.com/ws63-tools/fwpack/pkg/storage"
	"go.uber.org/multierr"
)

// Publisher uploads artifacts to remote storage.
type Publisher interface {
	Key(localPath string) string
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, localPath, key string) (*storage.ObjectResult, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo      *db.Repository
	sink      layout.Sink
	publisher Publisher
}

// NewMachine creates a new FSM machine. publisher may be nil when
// publishing is not configured.
func NewMachine(repo *db.Repository, sink layout.Sink, publisher Publisher) *Machine {
	return &Machine{repo: repo, sink: sink, publisher: publisher}
}

type handler func(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error

// step adapts a handler to a transition. Every failure aborts the run: the
// pipeline steps are not retried.
func (m *Machine) step(state string, h handler) func(context.Context, *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return func(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
		slog.Info("fsm_state_"+state, "source_dir", req.Msg.SourceDir)

		resp := req.W.Msg
		if resp == nil {
			resp = &BuildResponse{}
		}
		if err := h(ctx, req.Msg, resp); err != nil {
			resp.Status = StatusFailed
			resp.ErrorMessage = err.Error()
			slog.Error("fsm_state_failed", "state", state, "error", err)
			return nil, fsm.Abort(errors.Wrapf(err, "%s", state))
		}
		return fsm.NewResponse(resp), nil
	}
}

func (m *Machine) handleCheckInputs(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return m.step(StateCheckInputs, m.CheckInputs)(ctx, req)
}

func (m *Machine) handleEfuse(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return m.step(StateEfuse, m.Efuse)(ctx, req)
}

func (m *Machine) handlePackage(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return m.step(StatePackage, m.Package)(ctx, req)
}

func (m *Machine) handlePublish(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return m.step(StatePublish, m.Publish)(ctx, req)
}

func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[BuildRequest, BuildResponse]) (*fsm.Response[BuildResponse], error) {
	return m.step(StateComplete, m.Complete)(ctx, req)
}

func (m *Machine) builder(msg *BuildRequest) *layout.Builder {
	return layout.NewBuilder(layout.Options{
		SourceDir: msg.SourceDir,
		OutputDir: msg.OutputDir,
		Product:   msg.Product,
		Defines:   layout.ParseDefines(msg.Defines),
	})
}

// CheckInputs verifies the fuse table and the load-only components exist
// and fit their regions. The full manifest is checked after the blob is
// produced.
func (m *Machine) CheckInputs(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	if _, err := os.Stat(msg.TablePath); err != nil {
		return errors.Newf(errors.ErrConfigMissing, "fuse table %s: %v", msg.TablePath, err)
	}
	if msg.Publish && m.publisher == nil {
		return errors.Newf(errors.ErrConfigMissing, "publishing requested without a storage bucket")
	}

	manifest, err := m.builder(msg).LoadOnly()
	if err != nil {
		return err
	}
	if err := security.ValidateRegions(manifest.Entries); err != nil {
		return err
	}
	slog.Info("inputs_checked", "table", msg.TablePath, "source_dir", msg.SourceDir)
	return nil
}

// Efuse normalizes the fuse table when a sign dir is given and encodes it
// into the blob slot.
func (m *Machine) Efuse(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	blobPath := msg.BlobPath()
	if msg.SignDir != "" {
		n := efuse.NewNormalizer(efuse.DefaultSources(msg.SignDir))
		if err := n.NormalizeFile(msg.TablePath); err != nil {
			return RecordFailure(m.repo, blobPath, db.KindEfuse, err)
		}
	}

	blob, err := efuse.EncodeFile(msg.TablePath, blobPath)
	if err != nil {
		return RecordFailure(m.repo, blobPath, db.KindEfuse, err)
	}
	a, err := RecordArtifact(m.repo, blobPath, db.KindEfuse, nil)
	if err != nil {
		return err
	}

	resp.BlobSHA256 = a.SHA256
	resp.BlobSize = int64(len(blob))
	resp.ArtifactIDs = append(resp.ArtifactIDs, a.ID)
	return nil
}

// Package builds both manifests and hands them to the serializer. Each
// manifest's package is recorded, failed or built.
func (m *Machine) Package(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	b := m.builder(msg)
	if full, err := b.Full(); err == nil {
		if err := security.ValidateRegions(full.Entries); err != nil {
			return RecordFailure(m.repo, full.Output, db.KindPackage, err)
		}
	}

	written, pkgErr := b.Package(ctx, m.sink)
	done := make(map[string]bool, len(written))
	for _, manifest := range written {
		a, err := RecordArtifact(m.repo, manifest.Output, db.KindPackage, nil)
		if err != nil {
			return err
		}
		done[manifest.Output] = true
		resp.Packages = append(resp.Packages, manifest.Output)
		resp.ArtifactIDs = append(resp.ArtifactIDs, a.ID)
	}
	if pkgErr == nil {
		return nil
	}
	outDir := msg.OutputDir
	if outDir == "" {
		outDir = msg.SourceDir
	}
	err := pkgErr
	for _, v := range []string{layout.VariantFull, layout.VariantLoadOnly} {
		if out := layout.OutputName(outDir, msg.Product, v); !done[out] {
			_, recErr := RecordArtifact(m.repo, out, db.KindPackage, pkgErr)
			err = multierr.Append(err, recErr)
		}
	}
	return err
}

// Publish uploads every artifact of the run. It is a no-op unless
// publishing was requested.
func (m *Machine) Publish(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	if !msg.Publish {
		slog.Info("publish_skipped", "artifacts", len(resp.ArtifactIDs))
		return nil
	}
	artifacts, err := m.repo.ListByStatus(db.StatusBuilt)
	if err != nil {
		return err
	}
	produced := make(map[int64]bool, len(resp.ArtifactIDs))
	for _, id := range resp.ArtifactIDs {
		produced[id] = true
	}
	for _, a := range artifacts {
		if !produced[a.ID] {
			continue
		}
		key, err := PublishArtifact(ctx, m.repo, m.publisher, a, msg.Overwrite)
		if err != nil {
			return err
		}
		resp.Published = append(resp.Published, key)
	}
	return nil
}

// Complete marks the run done.
func (m *Machine) Complete(ctx context.Context, msg *BuildRequest, resp *BuildResponse) error {
	resp.Status = StatusComplete
	slog.Info("fsm_complete", "source_dir", msg.SourceDir, "packages", len(resp.Packages), "published", len(resp.Published))
	return nil
}

// PublishArtifact uploads one ledger artifact and marks it published. An
// existing object under the artifact's key is only replaced when overwrite
// is set. Failures are recorded on the artifact.
func PublishArtifact(ctx context.Context, repo *db.Repository, p Publisher, a *db.Artifact, overwrite bool) (string, error) {
	key := p.Key(a.Path)
	if !overwrite {
		exists, err := p.Exists(ctx, key)
		if err != nil {
			return "", failPublish(repo, a, errors.Wrapf(err, "checking %s", key))
		}
		if exists {
			return "", failPublish(repo, a, errors.Newf(storage.ErrObjectExists, "%s", key))
		}
	}

	res, err := p.Upload(ctx, a.Path, key)
	if err != nil {
		return "", failPublish(repo, a, errors.Wrapf(err, "publishing %s", a.Path))
	}
	if a.SHA256 != "" && res.SHA256 != a.SHA256 {
		return "", failPublish(repo, a, errors.Newf(storage.ErrDigestMismatch, "%s changed since it was built", a.Path))
	}
	if err := repo.MarkPublished(a.ID, key); err != nil {
		return "", err
	}
	return key, nil
}

func failPublish(repo *db.Repository, a *db.Artifact, cause error) error {
	slog.Error("publish_failed", "path", a.Path, "error", cause)
	return multierr.Append(cause, repo.UpdateStatus(a.ID, db.StatusFailed, cause.Error()))
}
