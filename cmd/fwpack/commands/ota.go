package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/internal/config"
	"github.com/ws63-tools/fwpack/pkg/archive"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/external"
	"github.com/ws63-tools/fwpack/pkg/ota"
	"github.com/ws63-tools/fwpack/pkg/security"
)

var (
	otaComponents string
	otaNewRoot    string
	otaOldRoot    string
	otaBaseline   string
	otaOutputDir  string
)

var otaCmd = &cobra.Command{
	Use:   "ota",
	Short: "Generate an OTA update package against an old image set",
	Long: `Generate an OTA update package. The old images come from --old-root, or
from a baseline archive (.tar, .tar.gz, .tar.zst, .tar.lz4) given as a local
path or as a key in the configured S3 bucket.`,
	Args: cobra.NoArgs,
	RunE: runOTA,
}

func init() {
	rootCmd.AddCommand(otaCmd)
	otaCmd.Flags().StringVar(&otaComponents, "components", "app", "Comma separated components: app,test,boot,nv")
	otaCmd.Flags().StringVar(&otaNewRoot, "new-root", "", "Directory of the new images (default: fwpkg-dir)")
	otaCmd.Flags().StringVar(&otaOldRoot, "old-root", "", "Directory of the old images")
	otaCmd.Flags().StringVar(&otaBaseline, "baseline", "", "Baseline archive path or S3 key holding the old images")
	otaCmd.Flags().StringVar(&otaOutputDir, "out", "", "OTA output directory (default: <output-dir>/ota)")
}

func runOTA(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	newRoot := otaNewRoot
	if newRoot == "" {
		newRoot = cfg.FwpkgDir
	}
	outDir := otaOutputDir
	if outDir == "" {
		outDir = filepath.Join(cfg.PackageOutputDir(), "ota")
	}

	oldRoot := otaOldRoot
	if otaBaseline != "" {
		if oldRoot, err = fetchBaseline(ctx, cfg, otaBaseline); err != nil {
			return err
		}
	}
	if oldRoot == "" {
		return errors.Newf(errors.ErrConfigMissing, "one of --old-root or --baseline is required")
	}

	gen, err := external.ParseCommand(cfg.OTACmd)
	if err != nil {
		return errors.Wrap(err, "ota-cmd")
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	b := ota.NewBuilder(ota.Paths{
		InputDir:  newRoot,
		OutputDir: outDir,
		ConfigDir: cfg.OTAConfigDir,
	}, external.NewGenerator(gen))

	req, err := b.Build(ctx, ota.ParseComponents(otaComponents), ota.RootInfo{
		New: ota.NewTree(newRoot, cfg.Product),
		Old: ota.NewTree(oldRoot, cfg.Product),
	})
	if err != nil {
		return recordFailure(repo, outDir, db.KindOTA, err)
	}

	produced, err := recordOutputs(repo, outDir, req.TempDir)
	if err != nil {
		return err
	}
	fmt.Printf("OTA package written to %s (%d files)\n", outDir, produced)
	return nil
}

// fetchBaseline extracts a baseline archive and returns the extraction dir.
// A baseline that is not a local file is downloaded from S3.
func fetchBaseline(ctx context.Context, cfg *config.Config, baseline string) (string, error) {
	dir := filepath.Join(cfg.WorkDir, "baselines")
	if err := ensureDirectories(cfg.SQLitePath, "", dir); err != nil {
		return "", err
	}

	local := baseline
	if _, err := os.Stat(baseline); err != nil {
		client, err := newStorage(ctx, cfg)
		if err != nil {
			return "", err
		}
		if client == nil {
			return "", errors.Newf(errors.ErrConfigMissing, "baseline %s is not a local file and no s3-bucket is set", baseline)
		}
		exists, err := client.Exists(ctx, baseline)
		if err != nil {
			return "", errors.Wrap(err, "baseline lookup failed")
		}
		if !exists {
			return "", errors.Newf(errors.ErrMissingComponent, "baseline %s is neither a local file nor an object in s3://%s", baseline, cfg.S3Bucket)
		}
		local = filepath.Join(dir, filepath.Base(baseline))
		if _, err := client.Download(ctx, baseline, local); err != nil {
			return "", errors.Wrap(err, "baseline download failed")
		}
	}

	name := filepath.Base(local)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar.zst", ".tar.lz4", ".tar"} {
		name = strings.TrimSuffix(name, ext)
	}
	extractDir := filepath.Join(dir, name)
	if err := os.RemoveAll(extractDir); err != nil {
		return "", errors.Wrap(err, "failed to clean baseline dir")
	}

	validator := security.NewValidator(security.Limits{
		MaxFileSize:         cfg.MaxFileSize,
		MaxTotalSize:        cfg.MaxTotalSize,
		MaxCompressionRatio: cfg.MaxCompressionRatio,
	})
	if err := archive.ExtractTarball(local, extractDir, validator); err != nil {
		return "", errors.Wrap(err, "baseline extraction failed")
	}
	return extractDir, nil
}

// recordOutputs records every file the generator left in outDir, skipping
// its temp dir.
func recordOutputs(repo *db.Repository, outDir, tempDir string) (int, error) {
	var n int
	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == tempDir {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := recordArtifact(repo, path, db.KindOTA); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, errors.Wrap(err, "failed to record OTA outputs")
}
