package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/security"
)

type entry struct {
	name, body, link string
	dir              bool
}

func buildTar(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func compress(t *testing.T, data []byte, c Compression) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return data
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var baseline = []entry{
	{name: "old", dir: true},
	{name: "old/ws63-liteos-app_sign.bin", body: "application image v1"},
	{name: "old/flashboot_sign.bin", body: "flash boot v1"},
	{name: "old/current.bin", link: "ws63-liteos-app_sign.bin"},
}

func TestExtractTarball_Compressions(t *testing.T) {
	tests := []struct {
		file string
		c    Compression
	}{
		{"baseline.tar", CompressionNone},
		{"baseline.tar.gz", CompressionGzip},
		{"baseline.tar.zst", CompressionZstd},
		{"baseline.tar.lz4", CompressionLZ4},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := DetectCompression(tt.file); got != tt.c {
				t.Fatalf("DetectCompression(%q) = %s, want %s", tt.file, got, tt.c)
			}
			dir := t.TempDir()
			archivePath := filepath.Join(dir, tt.file)
			if err := os.WriteFile(archivePath, compress(t, buildTar(t, baseline), tt.c), 0644); err != nil {
				t.Fatal(err)
			}

			dest := filepath.Join(dir, "out")
			if err := ExtractTarball(archivePath, dest, security.NewValidator(security.DefaultLimits)); err != nil {
				t.Fatalf("ExtractTarball: %v", err)
			}

			got, err := os.ReadFile(filepath.Join(dest, "old", "current.bin"))
			if err != nil {
				t.Fatalf("read through symlink: %v", err)
			}
			if string(got) != "application image v1" {
				t.Errorf("current.bin = %q", got)
			}
		})
	}
}

func TestExtractTarball_RejectsTraversal(t *testing.T) {
	for _, e := range []entry{
		{name: "../escape.bin", body: "x"},
		{name: "old/evil.bin", link: "../../escape.bin"},
	} {
		dir := t.TempDir()
		archivePath := filepath.Join(dir, "baseline.tar")
		if err := os.WriteFile(archivePath, buildTar(t, []entry{e}), 0644); err != nil {
			t.Fatal(err)
		}
		err := ExtractTarball(archivePath, filepath.Join(dir, "out"), security.NewValidator(security.DefaultLimits))
		if !errors.Is(err, security.ErrUnsafePath) {
			t.Errorf("entry %q: error = %v, want ErrUnsafePath", e.name, err)
		}
	}
}

func TestExtractTarball_EnforcesLimits(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "baseline.tar")
	if err := os.WriteFile(archivePath, buildTar(t, baseline), 0644); err != nil {
		t.Fatal(err)
	}
	limits := security.Limits{MaxFileSize: 1024, MaxTotalSize: 25, MaxCompressionRatio: 100}

	err := ExtractTarball(archivePath, filepath.Join(dir, "out"), security.NewValidator(limits))
	if !errors.Is(err, security.ErrLimitExceeded) {
		t.Errorf("error = %v, want ErrLimitExceeded", err)
	}
}
