package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
	appfsm "github.com/ws63-tools/fwpack/pkg/fsm"
	"go.uber.org/multierr"
)

var publishOverwrite bool

var publishCmd = &cobra.Command{
	Use:   "publish [path...]",
	Short: "Upload built artifacts to the configured bucket",
	Long:  `Upload the given artifacts, or every artifact in the built state when no path is given.`,
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().BoolVar(&publishOverwrite, "overwrite", false, "Replace objects already published under the same key")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if client == nil {
		return errors.Newf(errors.ErrConfigMissing, "s3-bucket is required to publish")
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	var artifacts []*db.Artifact
	if len(args) == 0 {
		if artifacts, err = repo.ListByStatus(db.StatusBuilt); err != nil {
			return err
		}
	}
	for _, p := range args {
		a, err := repo.GetByPath(p)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("artifact not found: %s", p)
		}
		artifacts = append(artifacts, a)
	}

	var errs error
	for _, a := range artifacts {
		key, err := appfsm.PublishArtifact(ctx, repo, client, a, publishOverwrite)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		fmt.Printf("published %s -> s3://%s/%s\n", a.Path, cfg.S3Bucket, key)
	}
	return errs
}
