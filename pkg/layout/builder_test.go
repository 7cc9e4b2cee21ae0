package layout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

type recordingSink struct {
	calls []sinkCall
	err   error
}

type sinkCall struct {
	Output  string
	Entries []string
}

func (s *recordingSink) Write(_ context.Context, output string, entries []Descriptor) error {
	var lines []string
	for _, d := range entries {
		lines = append(lines, d.String())
	}
	s.calls = append(s.calls, sinkCall{output, lines})
	return s.err
}

var componentSizes = map[string]int{
	"root_loaderboot_sign.bin":  100,
	"root_params_sign.bin":      0x200,
	"ssb_sign.bin":              0x1000,
	"flashboot_sign.bin":        0x8000,
	"flashboot_backup_sign.bin": 0x8000,
	"ws63_all_nv.bin":           0x10,
	"ws63_all_nv_factory.bin":   0x10,
	"ws63-liteos-app_sign.bin":  0x12345,
	"efuse_cfg.bin":             96,
}

func writeComponents(t *testing.T, dir string, sizes map[string]int) {
	t.Helper()
	for name, size := range sizes {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func roles(m Manifest) []Role {
	var out []Role
	for _, d := range m.Entries {
		out = append(out, d.Role)
	}
	return out
}

func TestFull_Order(t *testing.T) {
	dir := t.TempDir()
	writeComponents(t, dir, componentSizes)

	m, err := NewBuilder(Options{SourceDir: dir}).Full()
	if err != nil {
		t.Fatalf("Full: %v", err)
	}

	want := []string{
		filepath.Join(dir, "root_loaderboot_sign.bin") + "|0x0|0x200000|0",
		filepath.Join(dir, "root_params_sign.bin") + "|0x200000|0x200|1",
		filepath.Join(dir, "ssb_sign.bin") + "|0x202000|0x1000|1",
		filepath.Join(dir, "flashboot_sign.bin") + "|0x220000|0x8000|1",
		filepath.Join(dir, "flashboot_backup_sign.bin") + "|0x210000|0x8000|1",
		filepath.Join(dir, "ws63_all_nv.bin") + "|0x5fc000|0x4000|1",
		filepath.Join(dir, "ws63-liteos-app_sign.bin") + "|0x230000|0x12345|1",
		filepath.Join(dir, "efuse_cfg.bin") + "|0x0|0x200000|3",
	}
	if diff := cmp.Diff(want, m.Strings()); diff != "" {
		t.Errorf("full manifest mismatch (-want +got):\n%s", diff)
	}
	if m.Output != filepath.Join(dir, "ws63-liteos-app_all.fwpkg") {
		t.Errorf("output = %s", m.Output)
	}
}

func TestFull_OptionalPartitions(t *testing.T) {
	dir := t.TempDir()
	writeComponents(t, dir, componentSizes)
	writeComponents(t, dir, map[string]int{"ws63-liteos-mfg_sign.bin": 10})

	tests := []struct {
		name    string
		defines string
		want    []Role
	}{
		{
			name:    "factory flag unset",
			defines: "CONFIG_FOO",
			want: []Role{RoleLoaderBoot, RoleParams, RoleSecondaryBoot, RoleFlashBoot, RoleFlashBootBackup,
				RoleNV, RoleApplication, RoleManufacturing, RoleEfuseConfig},
		},
		{
			name:    "factory flag set",
			defines: "CONFIG_FOO,PACKET_NV_FACTORY",
			want: []Role{RoleLoaderBoot, RoleParams, RoleSecondaryBoot, RoleFlashBoot, RoleFlashBootBackup,
				RoleNV, RoleNVFactory, RoleApplication, RoleManufacturing, RoleEfuseConfig},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewBuilder(Options{SourceDir: dir, Defines: ParseDefines(tt.defines)}).Full()
			if err != nil {
				t.Fatalf("Full: %v", err)
			}
			if diff := cmp.Diff(tt.want, roles(m)); diff != "" {
				t.Errorf("roles mismatch (-want +got):\n%s", diff)
			}
			for _, d := range m.Entries {
				switch d.Role {
				case RoleManufacturing:
					if d.Offset != 0x470000 || d.Size != 0x183000 {
						t.Errorf("manufacturing entry = %s", d)
					}
				case RoleNVFactory:
					if d.Offset != 0x20C000 || d.Size != 0x4000 {
						t.Errorf("nv factory entry = %s", d)
					}
				}
			}
		})
	}
}

func TestFull_MissingComponent(t *testing.T) {
	dir := t.TempDir()
	sizes := map[string]int{}
	for k, v := range componentSizes {
		sizes[k] = v
	}
	delete(sizes, "ssb_sign.bin")
	writeComponents(t, dir, sizes)

	b := NewBuilder(Options{SourceDir: dir})
	if _, err := b.Full(); !errors.Is(err, errors.ErrMissingComponent) {
		t.Errorf("Full error = %v, want ErrMissingComponent", err)
	}

	m, err := b.LoadOnly()
	if err != nil {
		t.Fatalf("LoadOnly: %v", err)
	}
	if diff := cmp.Diff([]Role{RoleLoaderBoot, RoleApplication}, roles(m)); diff != "" {
		t.Errorf("load-only roles mismatch (-want +got):\n%s", diff)
	}
}

func TestPackage(t *testing.T) {
	dir := t.TempDir()
	writeComponents(t, dir, componentSizes)
	out := t.TempDir()

	sink := &recordingSink{}
	written, err := NewBuilder(Options{SourceDir: dir, OutputDir: out, Product: "ws63-liteos-app"}).Package(context.Background(), sink)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if len(written) != 2 || len(sink.calls) != 2 {
		t.Fatalf("wrote %d manifests, sink saw %d", len(written), len(sink.calls))
	}
	if sink.calls[0].Output != filepath.Join(out, "ws63-liteos-app_all.fwpkg") {
		t.Errorf("first output = %s", sink.calls[0].Output)
	}
	wantLoadOnly := []string{
		filepath.Join(dir, "root_loaderboot_sign.bin") + "|0x0|0x200000|0",
		filepath.Join(dir, "ws63-liteos-app_sign.bin") + "|0x230000|0x12345|1",
	}
	if diff := cmp.Diff(sinkCall{filepath.Join(out, "ws63-liteos-app_only.fwpkg"), wantLoadOnly}, sink.calls[1]); diff != "" {
		t.Errorf("load-only call mismatch (-want +got):\n%s", diff)
	}
}

func TestPackage_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	writeComponents(t, dir, map[string]int{
		"root_loaderboot_sign.bin": 100,
		"ws63-liteos-app_sign.bin": 200,
	})

	sink := &recordingSink{}
	written, err := NewBuilder(Options{SourceDir: dir}).Package(context.Background(), sink)
	if !errors.Is(err, errors.ErrMissingComponent) {
		t.Errorf("Package error = %v, want ErrMissingComponent", err)
	}
	if len(written) != 1 || written[0].Name != VariantLoadOnly {
		t.Errorf("written = %+v, want only the load-only manifest", written)
	}
}

func TestPackage_SinkFailure(t *testing.T) {
	dir := t.TempDir()
	writeComponents(t, dir, componentSizes)

	sink := &recordingSink{err: errors.Newf(errors.ErrExternalTool, "exit status 2")}
	_, err := NewBuilder(Options{SourceDir: dir}).Package(context.Background(), sink)
	if !errors.Is(err, errors.ErrExternalTool) {
		t.Errorf("Package error = %v, want ErrExternalTool", err)
	}
	if len(sink.calls) != 2 {
		t.Errorf("sink called %d times, want 2", len(sink.calls))
	}
}

func TestParseDefines(t *testing.T) {
	d := ParseDefines("-DCONFIG_A=1, PACKET_NV_FACTORY;CONFIG_B")
	for _, name := range []string{"CONFIG_A", FlagNVFactory, "CONFIG_B"} {
		if !d.Has(name) {
			t.Errorf("define %s not parsed from %v", name, d)
		}
	}
	if d.Has("PACKET_NV") {
		t.Error("prefix of a define matched")
	}
}
