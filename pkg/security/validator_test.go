package security

import (
	"testing"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/layout"
	"go.uber.org/multierr"
)

func TestValidatePath_PathTraversal(t *testing.T) {
	v := NewValidator(DefaultLimits)

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"app/ws63-liteos-app_sign.bin", false},
		{"flashboot_sign.bin", false},
		{"..data/nv.bin", false},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/../file.bin", false},
		{"dir/../../etc/passwd", true},
		{"..", true},
	}

	for _, tt := range tests {
		err := v.ValidatePath(tt.path)
		if tt.shouldErr && !errors.Is(err, ErrUnsafePath) {
			t.Errorf("ValidatePath(%q) = %v, want ErrUnsafePath", tt.path, err)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for path %s: %v", tt.path, err)
		}
	}
}

func TestValidateSymlink(t *testing.T) {
	v := NewValidator(DefaultLimits)

	tests := []struct {
		link, target string
		shouldErr    bool
	}{
		{"boot/current.bin", "flashboot_sign.bin", false},
		{"boot/current.bin", "../app/app.bin", false},
		{"boot/current.bin", "../../etc/passwd", true},
		{"current.bin", "/etc/passwd", true},
	}
	for _, tt := range tests {
		err := v.ValidateSymlink(tt.link, tt.target)
		if (err != nil) != tt.shouldErr {
			t.Errorf("ValidateSymlink(%q, %q) = %v, shouldErr %v", tt.link, tt.target, err, tt.shouldErr)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	v := NewValidator(Limits{MaxFileSize: 100, MaxTotalSize: 1000, MaxCompressionRatio: 10})

	if err := v.ValidateFileSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}
	if err := v.ValidateFileSize(150); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("size 150 over limit 100: got %v", err)
	}
}

func TestValidateCompressionRatio(t *testing.T) {
	v := NewValidator(Limits{MaxFileSize: 1024, MaxTotalSize: 10240, MaxCompressionRatio: 10})

	if err := v.ValidateCompressionRatio(10, 100); err != nil {
		t.Errorf("expected no error for ratio 10.0, got: %v", err)
	}
	if err := v.ValidateCompressionRatio(50, 1000); err == nil {
		t.Error("expected error for ratio 20.0 exceeding limit 10.0")
	}
	if err := v.ValidateCompressionRatio(0, 1); err == nil {
		t.Error("expected error for zero compressed size")
	}
}

func TestAddExtractedSize_ExceedsTotal(t *testing.T) {
	v := NewValidator(Limits{MaxFileSize: 1024, MaxTotalSize: 500, MaxCompressionRatio: 10})

	if err := v.AddExtractedSize(400); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.AddExtractedSize(200); err == nil {
		t.Error("expected error when total extracted exceeds limit")
	}

	v.Reset()
	if got := v.Extracted(); got != 0 {
		t.Errorf("Extracted after Reset = %d", got)
	}
}

func TestValidateRegions(t *testing.T) {
	entries := []layout.Descriptor{
		{Role: layout.RoleLoaderBoot, Size: 0x200000},
		{Role: layout.RoleFlashBoot, Size: 0x10000},
		{Role: layout.RoleApplication, Size: 0x200000},
	}
	if err := ValidateRegions(entries); err != nil {
		t.Fatalf("entries within regions: %v", err)
	}

	entries = append(entries,
		layout.Descriptor{Role: layout.RoleApplication, Size: 0x240001},
		layout.Descriptor{Role: layout.RoleParams, Size: 0x3000},
	)
	err := ValidateRegions(entries)
	if !errors.Is(err, ErrRegionOverflow) {
		t.Fatalf("ValidateRegions = %v, want ErrRegionOverflow", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("got %d overflow errors, want 2", n)
	}
}
