package layout

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"go.uber.org/multierr"
)

// Manifest variant names, also used as package file suffixes.
const (
	VariantFull     = "all"
	VariantLoadOnly = "only"
)

var fullOrder = []Role{
	RoleLoaderBoot,
	RoleParams,
	RoleSecondaryBoot,
	RoleFlashBoot,
	RoleFlashBootBackup,
	RoleNV,
	RoleNVFactory,
	RoleApplication,
	RoleManufacturing,
	RoleEfuseConfig,
}

var loadOnlyOrder = []Role{
	RoleLoaderBoot,
	RoleApplication,
}

// Sink serializes a manifest into a single package file.
type Sink interface {
	Write(ctx context.Context, output string, entries []Descriptor) error
}

// Options configures a Builder.
type Options struct {
	// SourceDir holds the signed component binaries.
	SourceDir string
	// OutputDir receives the package files. Defaults to SourceDir.
	OutputDir string
	// Product names the application target.
	Product string
	// Defines are the extra build defines selecting optional partitions.
	Defines Defines
}

// Builder assembles flash layout manifests from a directory of signed binaries.
type Builder struct {
	opts  Options
	slots map[Role]Slot
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	if opts.Product == "" {
		opts.Product = DefaultProduct
	}
	if opts.OutputDir == "" {
		opts.OutputDir = opts.SourceDir
	}
	if opts.Defines == nil {
		opts.Defines = Defines{}
	}
	return &Builder{opts: opts, slots: Slots(opts.Product)}
}

// Full returns the full provisioning manifest.
func (b *Builder) Full() (Manifest, error) {
	return b.build(VariantFull, fullOrder)
}

// LoadOnly returns the loader plus application manifest.
func (b *Builder) LoadOnly() (Manifest, error) {
	return b.build(VariantLoadOnly, loadOnlyOrder)
}

// Path returns the source path of the component in role.
func (b *Builder) Path(role Role) string {
	return filepath.Join(b.opts.SourceDir, b.slots[role].File)
}

func (b *Builder) build(variant string, order []Role) (Manifest, error) {
	m := Manifest{
		Name:   variant,
		Output: OutputName(b.opts.OutputDir, b.opts.Product, variant),
	}

	for _, role := range order {
		slot := b.slots[role]
		path := b.Path(role)

		switch role {
		case RoleNVFactory:
			if !b.opts.Defines.Has(FlagNVFactory) {
				continue
			}
			slog.Info("layout_nv_factory_included", "manifest", variant)
		case RoleManufacturing:
			if _, err := os.Stat(path); err != nil {
				continue
			}
		}

		info, err := os.Stat(path)
		if err != nil {
			slog.Error("layout_component_missing", "manifest", variant, "role", role, "path", path)
			return Manifest{}, errors.Newf(errors.ErrMissingComponent, "%s manifest: %s (%s): %v", variant, role, path, err)
		}

		size := slot.Size
		if size == 0 {
			size = uint64(info.Size())
		}
		m.Entries = append(m.Entries, Descriptor{
			Role:   role,
			Path:   path,
			Offset: slot.Offset,
			Size:   size,
			Type:   slot.Type,
		})
	}

	slog.Info("layout_manifest_built", "manifest", variant, "entries", len(m.Entries), "output", m.Output)
	return m, nil
}

// Package builds the full and load-only manifests and hands each to sink
// in that order. A failure in one manifest does not prevent the other;
// the returned error combines both. The manifests written are returned.
func (b *Builder) Package(ctx context.Context, sink Sink) ([]Manifest, error) {
	var (
		written []Manifest
		errs    error
	)
	for _, build := range []func() (Manifest, error){b.Full, b.LoadOnly} {
		m, err := build()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := sink.Write(ctx, m.Output, m.Entries); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s manifest", m.Name))
			continue
		}
		written = append(written, m)
	}
	return written, errs
}
