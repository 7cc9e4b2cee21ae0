// Package security validates untrusted inputs: baseline tarball entries and
// component sizes against their reserved flash regions.
package security

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ws63-tools/fwpack/pkg/errors"
)

var (
	// ErrUnsafePath reports an archive entry escaping the extraction root.
	ErrUnsafePath = errors.New("unsafe archive path")

	// ErrLimitExceeded reports an archive over a size or ratio limit.
	ErrLimitExceeded = errors.New("archive limit exceeded")
)

// Limits bounds what a baseline archive may expand to.
type Limits struct {
	MaxFileSize         int64
	MaxTotalSize        int64
	MaxCompressionRatio float64
}

// DefaultLimits fit a full image set with generous headroom.
var DefaultLimits = Limits{
	MaxFileSize:         64 << 20,
	MaxTotalSize:        256 << 20,
	MaxCompressionRatio: 100,
}

// Validator checks the entries of one archive extraction.
type Validator struct {
	limits Limits

	mu           sync.Mutex
	extractedSum int64
}

// NewValidator creates a validator enforcing limits.
func NewValidator(limits Limits) *Validator {
	slog.Info("security_validator_init",
		"max_file_size", limits.MaxFileSize,
		"max_total_size", limits.MaxTotalSize,
		"max_compression_ratio", limits.MaxCompressionRatio)
	return &Validator{limits: limits}
}

// ValidatePath rejects absolute entry names and names leaving the root.
func (v *Validator) ValidatePath(name string) error {
	if filepath.IsAbs(name) {
		slog.Error("security_path_validation_failed", "path", name, "reason", "absolute_path")
		return errors.Newf(ErrUnsafePath, "absolute path %s", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_path_validation_failed", "path", name, "reason", "path_traversal")
		return errors.Newf(ErrUnsafePath, "path traversal in %s", name)
	}
	return nil
}

// ValidateSymlink rejects links whose target, resolved next to the link,
// leaves the root. Baselines are plain image sets, so absolute targets are
// rejected too.
func (v *Validator) ValidateSymlink(link, target string) error {
	if filepath.IsAbs(target) {
		slog.Error("security_symlink_validation_failed", "symlink", link, "target", target, "reason", "absolute_target")
		return errors.Newf(ErrUnsafePath, "symlink %s -> %s is absolute", link, target)
	}
	resolved := filepath.Join(filepath.Dir(link), target)
	if err := v.ValidatePath(resolved); err != nil {
		return errors.Wrapf(err, "symlink %s -> %s", link, target)
	}
	return nil
}

// ValidateFileSize checks one entry against the per-file limit.
func (v *Validator) ValidateFileSize(size int64) error {
	if size > v.limits.MaxFileSize {
		slog.Error("security_file_size_exceeded", "file_size", size, "max_file_size", v.limits.MaxFileSize)
		return errors.Newf(ErrLimitExceeded, "file size %d exceeds max %d", size, v.limits.MaxFileSize)
	}
	return nil
}

// AddExtractedSize tracks total extracted size and checks against limit
func (v *Validator) AddExtractedSize(size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.extractedSum += size
	if v.extractedSum > v.limits.MaxTotalSize {
		slog.Error("security_total_size_exceeded", "total", v.extractedSum, "max_total", v.limits.MaxTotalSize)
		return errors.Newf(ErrLimitExceeded, "total extracted size %d exceeds max %d", v.extractedSum, v.limits.MaxTotalSize)
	}
	return nil
}

// ValidateCompressionRatio checks the expanded size against the archive size.
func (v *Validator) ValidateCompressionRatio(compressed, uncompressed int64) error {
	if compressed == 0 {
		return errors.Newf(ErrLimitExceeded, "compressed size cannot be zero")
	}
	ratio := float64(uncompressed) / float64(compressed)
	if ratio > v.limits.MaxCompressionRatio {
		slog.Error("security_compression_bomb_detected", "ratio", ratio, "max_ratio", v.limits.MaxCompressionRatio)
		return errors.Newf(ErrLimitExceeded, "compression ratio %.2f exceeds max %.2f", ratio, v.limits.MaxCompressionRatio)
	}
	return nil
}

// Reset resets the total size counter
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.extractedSum = 0
}

// Extracted returns the total size accepted since the last Reset.
func (v *Validator) Extracted() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.extractedSum
}
