package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/external"
	appfsm "github.com/ws63-tools/fwpack/pkg/fsm"
)

var (
	buildPublish     bool
	buildOverwrite   bool
	buildNoNormalize bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the full pipeline: check inputs, encode efuse, package, publish",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().BoolVar(&buildPublish, "publish", false, "Upload the artifacts to the configured bucket")
	buildCmd.Flags().BoolVar(&buildOverwrite, "overwrite", false, "Replace objects already published under the same key")
	buildCmd.Flags().BoolVar(&buildNoNormalize, "no-normalize", false, "Encode the fuse table as is")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, ""); err != nil {
		return err
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

	var publisher appfsm.Publisher
	if client, err := newStorage(ctx, cfg); err != nil {
		return err
	} else if client != nil {
		publisher = client
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(repo, external.NewPackageSink(packer), publisher)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &appfsm.BuildRequest{
		TablePath: cfg.EfuseTable,
		SignDir:   cfg.SignDir,
		SourceDir: cfg.FwpkgDir,
		OutputDir: cfg.PackageOutputDir(),
		Product:   cfg.Product,
		Defines:   cfg.ExtraDefines,
		Publish:   buildPublish,
		Overwrite: buildOverwrite,
	}
	if buildNoNormalize {
		req.SignDir = ""
	}
	resp := &appfsm.BuildResponse{}

	runID := fmt.Sprintf("%s-%d", cfg.Product, time.Now().UnixNano())
	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", runID, "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "build pipeline failed")
	}

	slog.Info("build_completed", "run_id", runID, "status", resp.Status, "packages", len(resp.Packages))
	for _, p := range resp.Packages {
		fmt.Println(p)
	}
	for _, k := range resp.Published {
		fmt.Printf("published %s\n", k)
	}
	return nil
}
