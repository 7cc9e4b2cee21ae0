package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("FWPACK_PRODUCT", "ws63-liteos-test")
	t.Setenv("FWPACK_EXTRA_DEFINES", "PACKET_NV_FACTORY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Product != "ws63-liteos-test" {
		t.Errorf("product = %q", cfg.Product)
	}
	if cfg.ExtraDefines != "PACKET_NV_FACTORY" {
		t.Errorf("extra-defines = %q", cfg.ExtraDefines)
	}
	if cfg.SQLitePath != ".fwpack/ledger.db" {
		t.Errorf("sqlite-path default = %q", cfg.SQLitePath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
	if cfg.PackageOutputDir() != cfg.FwpkgDir {
		t.Errorf("output dir = %q, want fwpkg dir", cfg.PackageOutputDir())
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		SQLitePath:          "ledger.db",
		FSMDBPath:           "fsm",
		FwpkgDir:            "fwpkg",
		Product:             "ws63-liteos-app",
		MaxFileSize:         1,
		MaxTotalSize:        1,
		MaxCompressionRatio: 1,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sqlite path", func(c *Config) { c.SQLitePath = "" }},
		{"no fsm path", func(c *Config) { c.FSMDBPath = "" }},
		{"no fwpkg dir", func(c *Config) { c.FwpkgDir = "" }},
		{"no product", func(c *Config) { c.Product = "" }},
		{"zero file size", func(c *Config) { c.MaxFileSize = 0 }},
		{"negative ratio", func(c *Config) { c.MaxCompressionRatio = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
