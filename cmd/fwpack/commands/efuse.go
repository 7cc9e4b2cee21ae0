package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/internal/config"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/efuse"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/layout"
)

var (
	efuseTable     string
	efuseSignDir   string
	efuseOut       string
	efuseNormalize bool
)

var efuseCmd = &cobra.Command{
	Use:   "efuse",
	Short: "Normalize, encode and inspect the efuse configuration",
}

var efuseNormalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Rewrite the fuse table with the computed security rows",
	Args:  cobra.NoArgs,
	RunE:  runEfuseNormalize,
}

var efuseEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode the fuse table into efuse_cfg.bin",
	Args:  cobra.NoArgs,
	RunE:  runEfuseEncode,
}

var efuseInspectCmd = &cobra.Command{
	Use:   "inspect <blob>",
	Short: "Verify a fuse blob and print its records",
	Args:  cobra.ExactArgs(1),
	RunE:  runEfuseInspect,
}

func init() {
	rootCmd.AddCommand(efuseCmd)
	efuseCmd.AddCommand(efuseNormalizeCmd, efuseEncodeCmd, efuseInspectCmd)

	efuseCmd.PersistentFlags().StringVar(&efuseTable, "table", "", "Fuse table CSV (default: efuse-table config)")
	efuseCmd.PersistentFlags().StringVar(&efuseSignDir, "sign-dir", "", "Signing config directory (default: sign-dir config)")
	efuseEncodeCmd.Flags().StringVarP(&efuseOut, "out", "o", "", "Blob output path (default: <fwpkg-dir>/efuse_cfg.bin)")
	efuseEncodeCmd.Flags().BoolVar(&efuseNormalize, "normalize", true, "Normalize the table before encoding")
}

func resolveEfusePaths(cfg *config.Config) (table, signDir string, err error) {
	table, signDir = efuseTable, efuseSignDir
	if table == "" {
		table = cfg.EfuseTable
	}
	if signDir == "" {
		signDir = cfg.SignDir
	}
	if table == "" {
		return "", "", errors.Newf(errors.ErrConfigMissing, "no fuse table configured")
	}
	return table, signDir, nil
}

func runEfuseNormalize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, signDir, err := resolveEfusePaths(cfg)
	if err != nil {
		return err
	}
	n := efuse.NewNormalizer(efuse.DefaultSources(signDir))
	if err := n.NormalizeFile(table); err != nil {
		return errors.Wrap(err, "normalize failed")
	}
	fmt.Printf("Normalized %s\n", table)
	return nil
}

func runEfuseEncode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, signDir, err := resolveEfusePaths(cfg)
	if err != nil {
		return err
	}
	out := efuseOut
	if out == "" {
		out = filepath.Join(cfg.FwpkgDir, layout.Slots(cfg.Product)[layout.RoleEfuseConfig].File)
	}

	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if efuseNormalize {
		n := efuse.NewNormalizer(efuse.DefaultSources(signDir))
		if err := n.NormalizeFile(table); err != nil {
			return errors.Wrap(recordFailure(repo, out, db.KindEfuse, err), "normalize failed")
		}
	}

	blob, err := efuse.EncodeFile(table, out)
	if err != nil {
		return errors.Wrap(recordFailure(repo, out, db.KindEfuse, err), "encode failed")
	}
	if _, err := recordArtifact(repo, out, db.KindEfuse); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (%s)\n", out, humanize.IBytes(uint64(len(blob))))
	return nil
}

func runEfuseInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read blob failed")
	}
	blob, err := efuse.Decode(data)
	if err != nil {
		return err
	}

	fmt.Printf("digest:       %x\n", blob.Digest)
	fmt.Printf("total length: %d\n", blob.TotalLength)
	fmt.Printf("file size:    %s\n", humanize.IBytes(uint64(len(data))))
	fmt.Printf("records:      %d\n\n", len(blob.Records))

	fmt.Printf("%-8s %-8s %-6s %s\n", "OFFSET", "WIDTH", "BYTES", "WORDS")
	for _, r := range blob.Records {
		fmt.Printf("%-8d %-8d %-6d", r.BitOffset, r.BitWidth, len(r.Value))
		for _, w := range r.Words() {
			fmt.Printf(" 0x%08x", w)
		}
		fmt.Println()
	}
	return nil
}
