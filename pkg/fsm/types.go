package fsm

import (
	"path/filepath"

	"github.com/ws63-tools/fwpack/pkg/layout"
)

// BuildRequest is the FSM input
type BuildRequest struct {
	// TablePath is the fuse table CSV.
	TablePath string
	// SignDir holds the key and sign configs. Empty skips normalization.
	SignDir string
	// SourceDir holds the signed component binaries.
	SourceDir string
	// OutputDir receives the packages. Defaults to SourceDir.
	OutputDir string
	Product   string
	Defines   string
	Publish   bool
	// Overwrite replaces objects already published under the same key.
	Overwrite bool
}

// BlobPath is where the encoded fuse blob is written: the efuse-config
// slot of the source dir.
func (r *BuildRequest) BlobPath() string {
	return filepath.Join(r.SourceDir, layout.Slots(r.Product)[layout.RoleEfuseConfig].File)
}

// BuildResponse is the FSM output (accumulated across transitions)
type BuildResponse struct {
	// From Efuse
	BlobSHA256 string
	BlobSize   int64

	// From Package
	Packages []string

	// Ledger rows of every produced artifact, blob first.
	ArtifactIDs []int64

	// From Publish
	Published []string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateCheckInputs = "check_inputs"
	StateEfuse       = "efuse"
	StatePackage     = "package"
	StatePublish     = "publish"
	StateComplete    = "complete"
	StateFailed      = "failed"
)

// Response statuses
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)
