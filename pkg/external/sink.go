package external

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/layout"
	"github.com/ws63-tools/fwpack/pkg/ota"
	"gopkg.in/yaml.v3"
)

// PackageSink hands a layout manifest to the container serializer, invoked
// as `<command> <output> <path|offset|size|type>...`.
type PackageSink struct {
	cmd Command
}

// NewPackageSink creates a sink running cmd.
func NewPackageSink(cmd Command) *PackageSink {
	return &PackageSink{cmd: cmd}
}

// Write implements layout.Sink.
func (s *PackageSink) Write(ctx context.Context, output string, entries []layout.Descriptor) error {
	args := make([]string, 0, len(entries)+1)
	args = append(args, output)
	for _, d := range entries {
		args = append(args, d.String())
	}
	if err := s.cmd.Run(ctx, args...); err != nil {
		return errors.Wrapf(err, "packing %s", filepath.Base(output))
	}
	slog.Info("package_written", "output", output, "entries", len(entries))
	return nil
}

// Generator runs the OTA package generator. The request is written as YAML
// into the request temp dir and its path passed as the only argument.
type Generator struct {
	cmd Command
}

// NewGenerator creates a generator running cmd.
func NewGenerator(cmd Command) *Generator {
	return &Generator{cmd: cmd}
}

// Generate implements ota.Generator.
func (g *Generator) Generate(ctx context.Context, req ota.Request) error {
	if err := os.MkdirAll(req.TempDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create OTA temp dir")
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create OTA output dir")
	}

	data, err := yaml.Marshal(&req)
	if err != nil {
		return errors.Wrap(err, "failed to encode OTA request")
	}
	reqPath := filepath.Join(req.TempDir, "ota_request.yaml")
	if err := os.WriteFile(reqPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write OTA request")
	}

	return g.cmd.Run(ctx, reqPath)
}

// BuildDriver runs the firmware build as `<command> <target>`.
type BuildDriver struct {
	cmd Command
}

// NewBuildDriver creates a driver running cmd.
func NewBuildDriver(cmd Command) *BuildDriver {
	return &BuildDriver{cmd: cmd}
}

// Build implements variant.Driver.
func (b *BuildDriver) Build(ctx context.Context, target string) error {
	slog.Info("build_started", "target", target, "command", b.cmd.String())
	return b.cmd.Run(ctx, target)
}
