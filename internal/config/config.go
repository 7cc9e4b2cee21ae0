package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Ledger and workflow state
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`
	WorkDir    string `mapstructure:"work-dir"`

	// Packaging inputs
	FwpkgDir     string `mapstructure:"fwpkg-dir"`
	OutputDir    string `mapstructure:"output-dir"`
	EfuseTable   string `mapstructure:"efuse-table"`
	SignDir      string `mapstructure:"sign-dir"`
	Product      string `mapstructure:"product"`
	ExtraDefines string `mapstructure:"extra-defines"`

	// External tools
	PackerCmd    string `mapstructure:"packer-cmd"`
	OTACmd       string `mapstructure:"ota-cmd"`
	OTAConfigDir string `mapstructure:"ota-config-dir"`
	BuildCmd     string `mapstructure:"build-cmd"`
	BuildDir     string `mapstructure:"build-dir"`

	// S3 configuration
	S3Bucket    string `mapstructure:"s3-bucket"`
	S3Region    string `mapstructure:"s3-region"`
	S3Prefix    string `mapstructure:"s3-prefix"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	// Baseline extraction limits
	MaxFileSize         int64   `mapstructure:"max-file-size"`
	MaxTotalSize        int64   `mapstructure:"max-total-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("sqlite-path", ".fwpack/ledger.db")
	viper.SetDefault("fsm-db-path", ".fwpack/fsm")
	viper.SetDefault("work-dir", "/tmp/fwpack")
	viper.SetDefault("fwpkg-dir", "output/ws63/fwpkg/ws63-liteos-app")
	viper.SetDefault("efuse-table", "build/config/target_config/ws63/sign_encry/efuse_cfg.csv")
	viper.SetDefault("sign-dir", "build/config/target_config/ws63/sign_encry")
	viper.SetDefault("product", "ws63-liteos-app")
	viper.SetDefault("packer-cmd", "python3 tools/pkg/packet_create.py")
	viper.SetDefault("ota-cmd", "python3 build/config/target_config/ws63/script/build_ota_pkt.py")
	viper.SetDefault("ota-config-dir", "build/config/target_config/ws63/fota")
	viper.SetDefault("build-cmd", "python3 build.py -c")
	viper.SetDefault("build-dir", ".")
	viper.SetDefault("output-dir", "")
	viper.SetDefault("extra-defines", "")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-prefix", "")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("max-file-size", 64*1024*1024)
	viper.SetDefault("max-total-size", 256*1024*1024)
	viper.SetDefault("max-compression-ratio", 100.0)

	// Environment variables (FWPACK_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("FWPACK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.SetConfigName("fwpack")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.fwpack")

	// A missing config file is fine; a broken one is not.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.FwpkgDir == "" {
		return fmt.Errorf("fwpkg-dir cannot be empty")
	}
	if c.Product == "" {
		return fmt.Errorf("product cannot be empty")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive")
	}
	if c.MaxTotalSize <= 0 {
		return fmt.Errorf("max-total-size must be positive")
	}
	if c.MaxCompressionRatio <= 0 {
		return fmt.Errorf("max-compression-ratio must be positive")
	}
	return nil
}

// PackageOutputDir is where packages are written, defaulting to the
// component dir.
func (c *Config) PackageOutputDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return c.FwpkgDir
}
