// Package variant builds one target under several menuconfig variants and
// collects the resulting flash packages.
package variant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/layout"
	"github.com/ws63-tools/fwpack/pkg/override"
)

// Driver builds a target with the currently installed base config.
type Driver interface {
	Build(ctx context.Context, target string) error
}

// Options configures a variant run.
type Options struct {
	// Target is the build target, e.g. ws63-liteos-app.
	Target string
	// BaseConfig is the menuconfig file the build driver reads.
	BaseConfig string
	// Variants are the menuconfig files to build with, relative to VariantDir.
	Variants []string
	VariantDir string
	// PackageDir is where the driver leaves the target packages.
	PackageDir string
	// OutputDir collects the renamed packages and build_result.log.
	OutputDir string
}

// Result summarizes a variant run.
type Result struct {
	Lines  []string
	Built  int
	Failed int
}

// LogName is the run summary written to the output dir.
const LogName = "build_result.log"

// Run builds every variant. The base config is restored before Run returns.
// Individual build failures are recorded in the result, not returned.
func Run(ctx context.Context, opts Options, driver Driver) (*Result, error) {
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create variant output dir")
	}

	res := &Result{}
	err := override.With(opts.BaseConfig, func(o *override.Override) error {
		for _, v := range opts.Variants {
			if err := ctx.Err(); err != nil {
				return err
			}
			runOne(ctx, opts, driver, o, v, res)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	logPath := filepath.Join(opts.OutputDir, LogName)
	if err := os.WriteFile(logPath, []byte(strings.Join(res.Lines, "\r\n")), 0644); err != nil {
		return res, errors.Wrap(err, "failed to write build result log")
	}
	slog.Info("variant_run_complete", "target", opts.Target, "built", res.Built, "failed", res.Failed, "log", logPath)
	return res, nil
}

func runOne(ctx context.Context, opts Options, driver Driver, o *override.Override, variant string, res *Result) {
	cfgPath := filepath.Join(opts.VariantDir, variant)
	if info, err := os.Stat(cfgPath); err != nil || info.IsDir() {
		slog.Warn("variant_config_skipped", "config", cfgPath)
		return
	}
	name := strings.TrimSuffix(filepath.Base(variant), filepath.Ext(variant))

	fail := func(format string, args ...any) {
		line := "[ERROR] " + fmt.Sprintf(format, args...)
		res.Lines = append(res.Lines, line)
		res.Failed++
		slog.Error("variant_failed", "config", cfgPath, "detail", line)
	}

	if err := o.Apply(cfgPath); err != nil {
		fail("build target:%s\tusing menuconfig:%s failed: %v", opts.Target, cfgPath, err)
		return
	}
	if err := driver.Build(ctx, opts.Target); err != nil {
		fail("build target:%s\tusing menuconfig:%s failed!", opts.Target, cfgPath)
	} else {
		res.Lines = append(res.Lines, fmt.Sprintf("[INFO] build target:%s\tusing menuconfig:%s success!", opts.Target, cfgPath))
		res.Built++
	}

	for _, v := range []string{layout.VariantFull, layout.VariantLoadOnly} {
		src := layout.OutputName(opts.PackageDir, opts.Target, v)
		if _, err := os.Stat(src); err != nil {
			fail("not find %s!", src)
			// The load-only package is not looked for without a full package.
			return
		}
		dst := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%s.fwpkg", name, v))
		if err := copyFile(src, dst); err != nil {
			fail("copy %s: %v", src, err)
			return
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
