package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/internal/config"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

var (
	cleanupAll      bool
	cleanupPath     string
	cleanupOrphaned bool
	cleanupKeep     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove produced artifacts and their ledger entries",
	Long: `Clean up produced artifacts:
  --all            Remove every artifact in the ledger
  --path <file>    Remove one artifact
  --orphaned       Drop ledger entries whose file is gone and remove stale baselines`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean all artifacts")
	cleanupCmd.Flags().StringVar(&cleanupPath, "path", "", "Clean a specific artifact by path")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean orphaned ledger entries and baselines")
	cleanupCmd.Flags().BoolVar(&cleanupKeep, "keep-files", false, "Only drop ledger entries, keep the files")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	switch {
	case cleanupAll:
		return cleanupAllArtifacts(repo)
	case cleanupPath != "":
		return cleanupSpecificArtifact(repo, cleanupPath)
	case cleanupOrphaned:
		return cleanupOrphanedArtifacts(repo, cfg)
	default:
		return fmt.Errorf("must specify --all, --path, or --orphaned")
	}
}

func cleanupAllArtifacts(repo *db.Repository) error {
	artifacts, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Printf("Cleaning up %d artifacts...\n", len(artifacts))
	for _, a := range artifacts {
		if err := removeArtifact(repo, a); err != nil {
			fmt.Printf("Failed to clean %s: %v\n", a.Path, err)
		} else {
			fmt.Printf("Cleaned: %s\n", a.Path)
		}
	}
	return nil
}

func cleanupSpecificArtifact(repo *db.Repository, path string) error {
	a, err := repo.GetByPath(path)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("artifact not found: %s", path)
	}
	if err := removeArtifact(repo, a); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}
	fmt.Printf("Cleaned: %s\n", path)
	return nil
}

func removeArtifact(repo *db.Repository, a *db.Artifact) error {
	if !cleanupKeep {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove file")
		}
	}
	return repo.Delete(a.ID)
}

func cleanupOrphanedArtifacts(repo *db.Repository, cfg *config.Config) error {
	fmt.Println("Scanning for orphaned artifacts...")

	artifacts, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	orphans := 0
	for _, a := range artifacts {
		if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
			continue
		}
		if err := repo.Delete(a.ID); err != nil {
			fmt.Printf("Failed to drop %s: %v\n", a.Path, err)
			continue
		}
		fmt.Printf("Dropped missing artifact: %s\n", a.Path)
		orphans++
	}

	baselines := filepath.Join(cfg.WorkDir, "baselines")
	if entries, err := os.ReadDir(baselines); err == nil {
		for _, e := range entries {
			p := filepath.Join(baselines, e.Name())
			if err := os.RemoveAll(p); err != nil {
				fmt.Printf("Failed to remove baseline %s: %v\n", e.Name(), err)
				continue
			}
			fmt.Printf("Removed baseline: %s\n", e.Name())
			orphans++
		}
	}

	fmt.Printf("Removed %d orphaned resources\n", orphans)
	return nil
}
