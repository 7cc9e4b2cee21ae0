package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "fwpack",
	Short: "ws63 firmware packaging tool",
	Long: `Encodes the efuse configuration, assembles flash packages and OTA
update packages, and keeps a ledger of the produced artifacts.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var persistentFlags = []struct {
	name, value, usage string
}{
	{"sqlite-path", ".fwpack/ledger.db", "Artifact ledger path"},
	{"fsm-db-path", ".fwpack/fsm", "Pipeline state directory"},
	{"work-dir", "/tmp/fwpack", "Scratch directory for baselines"},
	{"fwpkg-dir", "output/ws63/fwpkg/ws63-liteos-app", "Directory of signed component binaries"},
	{"output-dir", "", "Package output directory (default: fwpkg-dir)"},
	{"product", "ws63-liteos-app", "Application target name"},
	{"extra-defines", "", "Extra build defines, e.g. PACKET_NV_FACTORY"},
	{"s3-bucket", "", "S3 bucket for publishing and baselines"},
	{"s3-region", "us-east-1", "S3 region"},
	{"s3-prefix", "", "Key prefix for published artifacts"},
}

func init() {
	for _, f := range persistentFlags {
		rootCmd.PersistentFlags().String(f.name, f.value, f.usage)
		viper.BindPFlag(f.name, rootCmd.PersistentFlags().Lookup(f.name))
	}
}
