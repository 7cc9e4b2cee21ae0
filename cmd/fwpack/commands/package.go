package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/external"
	"github.com/ws63-tools/fwpack/pkg/layout"
	"github.com/ws63-tools/fwpack/pkg/security"
)

var packageDryRun bool

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Assemble the full and load-only flash packages",
	Args:  cobra.NoArgs,
	RunE:  runPackage,
}

func init() {
	rootCmd.AddCommand(packageCmd)
	packageCmd.Flags().BoolVar(&packageDryRun, "dry-run", false, "Print the manifests without packaging")
}

func runPackage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	b := layout.NewBuilder(layout.Options{
		SourceDir: cfg.FwpkgDir,
		OutputDir: cfg.PackageOutputDir(),
		Product:   cfg.Product,
		Defines:   layout.ParseDefines(cfg.ExtraDefines),
	})

	if packageDryRun {
		for _, build := range []func() (layout.Manifest, error){b.Full, b.LoadOnly} {
			m, err := build()
			if err != nil {
				return err
			}
			if err := security.ValidateRegions(m.Entries); err != nil {
				return err
			}
			fmt.Println(m.Output)
			for _, line := range m.Strings() {
				fmt.Println("  " + line)
			}
		}
		return nil
	}

	packer, err := external.ParseCommand(cfg.PackerCmd)
	if err != nil {
		return errors.Wrap(err, "packer-cmd")
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	written, pkgErr := b.Package(ctx, external.NewPackageSink(packer))
	for _, m := range written {
		if _, err := recordArtifact(repo, m.Output, db.KindPackage); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d entries)\n", m.Output, len(m.Entries))
	}
	if pkgErr != nil {
		return errors.Wrap(pkgErr, "packaging failed")
	}
	return nil
}
