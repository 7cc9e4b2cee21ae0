package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/external"
	"github.com/ws63-tools/fwpack/pkg/variant"
)

var (
	variantsDir        string
	variantsBaseConfig string
	variantsOutput     string
)

var variantsCmd = &cobra.Command{
	Use:   "variants [config...]",
	Short: "Build the product once per menuconfig variant and collect the packages",
	Long: `Builds the product with each menuconfig variant installed in place of the
base config, collecting the packages into <out>/<product>/<variant>_all.fwpkg and
<variant>_only.fwpkg. Arguments name configs in --dir; with none, every
*.config there is built.
The base config is restored afterwards, also when a build fails.`,
	RunE: runVariants,
}

func init() {
	rootCmd.AddCommand(variantsCmd)
	variantsCmd.Flags().StringVar(&variantsDir, "dir", "build/config/target_config/ws63/menuconfig/guard_sample", "Directory of variant configs")
	variantsCmd.Flags().StringVar(&variantsBaseConfig, "base-config", "build/config/target_config/ws63/menuconfig/acore/ws63_liteos_app.config", "Base config the build reads")
	variantsCmd.Flags().StringVar(&variantsOutput, "out", "GuardSample", "Collection directory")
}

func runVariants(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configs := args
	if len(configs) == 0 {
		entries, err := os.ReadDir(variantsDir)
		if err != nil {
			return errors.Wrap(err, "failed to read variant dir")
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".config") {
				configs = append(configs, e.Name())
			}
		}
		sort.Strings(configs)
	}

	build, err := external.ParseCommand(cfg.BuildCmd)
	if err != nil {
		return errors.Wrap(err, "build-cmd")
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	outDir := filepath.Join(variantsOutput, cfg.Product)
	res, err := variant.Run(ctx, variant.Options{
		Target:     cfg.Product,
		BaseConfig: variantsBaseConfig,
		Variants:   configs,
		VariantDir: variantsDir,
		PackageDir: cfg.FwpkgDir,
		OutputDir:  outDir,
	}, external.NewBuildDriver(build.InDir(cfg.BuildDir)))
	if err != nil {
		return err
	}

	collected, err := filepath.Glob(filepath.Join(outDir, "*.fwpkg"))
	if err != nil {
		return err
	}
	for _, p := range collected {
		if _, err := recordArtifact(repo, p, db.KindVariant); err != nil {
			return err
		}
	}

	for _, line := range res.Lines {
		fmt.Println(line)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d variant steps failed, see %s", res.Failed, filepath.Join(outDir, variant.LogName))
	}
	return nil
}
