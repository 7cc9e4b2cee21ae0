// Package archive unpacks OTA baseline image sets.
package archive

import (
	"archive/tar"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/security"
)

// Compression of a baseline archive, chosen by file extension.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// DetectCompression picks the decompressor for name.
func DetectCompression(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return CompressionGzip
	case strings.HasSuffix(name, ".tar.zst"):
		return CompressionZstd
	case strings.HasSuffix(name, ".tar.lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func decompress(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open gzip stream")
		}
		return zr, func() { zr.Close() }, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open zstd stream")
		}
		return zr, zr.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

// ExtractTarball extracts a baseline archive into destDir. Every entry is
// checked by validator; device nodes and hard links are skipped.
func ExtractTarball(tarPath, destDir string, validator *security.Validator) error {
	validator.Reset()
	slog.Info("archive_extract_start", "archive", tarPath, "dest", destDir)

	f, err := os.Open(tarPath)
	if err != nil {
		return errors.Wrap(err, "failed to open archive")
	}
	defer f.Close()

	stream, closeStream, err := decompress(f, DetectCompression(tarPath))
	if err != nil {
		return err
	}
	defer closeStream()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create extraction dir")
	}

	tr := tar.NewReader(stream)
	var files int
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "tar read error")
		}

		if err := validator.ValidatePath(header.Name); err != nil {
			return errors.Wrap(err, "invalid path in archive")
		}
		target := filepath.Join(destDir, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return errors.Wrap(err, "failed to create directory")
			}

		case tar.TypeReg:
			if err := validator.ValidateFileSize(header.Size); err != nil {
				return err
			}
			if err := validator.AddExtractedSize(header.Size); err != nil {
				return err
			}
			if err := writeEntry(target, tr, header.Size); err != nil {
				return err
			}
			files++

		case tar.TypeSymlink:
			if err := validator.ValidateSymlink(header.Name, header.Linkname); err != nil {
				return errors.Wrap(err, "invalid symlink target")
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errors.Wrap(err, "failed to create parent dir")
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return errors.Wrap(err, "failed to create symlink")
			}

		default:
			slog.Warn("archive_entry_skipped", "name", header.Name, "type", header.Typeflag)
		}
	}

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat archive")
	}
	if err := validator.ValidateCompressionRatio(fi.Size(), validator.Extracted()); err != nil {
		return err
	}

	slog.Info("archive_extract_complete", "archive", tarPath, "files", files, "bytes", validator.Extracted())
	return nil
}

func writeEntry(target string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrap(err, "failed to create parent dir")
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	// The header size was validated; never copy more than it declares.
	if _, err := io.Copy(out, io.LimitReader(r, size)); err != nil {
		out.Close()
		return errors.Wrap(err, "failed to write file")
	}
	return errors.Wrap(out.Close(), "failed to close file")
}
