package efuse

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"go.uber.org/multierr"
)

// Blob layout constants. The loader treats the digest and the fixed header
// as one 48-byte header, so HeaderSpan is what the header_size field holds
// and where the first record starts.
const (
	DigestSize       = sha256.Size
	HeaderSize       = 16
	HeaderSpan       = DigestSize + HeaderSize
	RecordHeaderSize = 8
	Alignment        = 64
)

// ErrCorruptBlob is returned by Decode for blobs that fail verification.
var ErrCorruptBlob = errors.New("corrupt fuse blob")

type blobHeader struct {
	Version     uint8
	Size        uint8
	Count       uint16
	TotalLength uint32
	Reserved    [2]uint32
}

type recordHeader struct {
	Version   uint8
	Size      uint8
	BitOffset uint16
	BitWidth  uint16
	ValueLen  uint16
}

// ValueLength returns the number of value bytes stored for a field of
// bitWidth bits.
func ValueLength(bitWidth uint16) int {
	switch {
	case bitWidth <= 32:
		return 4
	case bitWidth <= 64:
		return 8
	default:
		return int(bitWidth) / 8
	}
}

// EncodedRecord is one decoded blob record.
type EncodedRecord struct {
	BitOffset uint16
	BitWidth  uint16
	Value     []byte
}

// Words returns the record value as little-endian 32-bit words.
func (r EncodedRecord) Words() []uint32 {
	words := make([]uint32, len(r.Value)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(r.Value[i*4:])
	}
	return words
}

// Blob is a decoded and verified fuse blob.
type Blob struct {
	Digest      [DigestSize]byte
	TotalLength uint32
	Records     []EncodedRecord
}

// Encode encodes the enabled rows of t into a fuse blob.
func Encode(t *Table) ([]byte, error) {
	rows, err := t.Rows()
	if err != nil {
		return nil, err
	}
	return EncodeRows(rows)
}

// EncodeRows encodes rows, skipping disabled ones, into a fuse blob:
// the sha256 of the payload followed by the payload (header, records and
// zero padding to a multiple of Alignment).
func EncodeRows(rows []FuseRow) ([]byte, error) {
	var records bytes.Buffer
	count := 0
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		if err := encodeRecord(&records, row); err != nil {
			return nil, err
		}
		count++
	}
	if count > 0xFFFF {
		return nil, errors.Newf(errors.ErrMalformedValue, "%d records exceed the header count field", count)
	}

	var payload bytes.Buffer
	header := blobHeader{
		Size:        HeaderSpan,
		Count:       uint16(count),
		TotalLength: uint32(HeaderSpan + records.Len()),
	}
	if err := binary.Write(&payload, binary.LittleEndian, header); err != nil {
		return nil, errors.Wrap(err, "failed to write blob header")
	}
	payload.Write(records.Bytes())
	if rem := payload.Len() % Alignment; rem != 0 {
		payload.Write(make([]byte, Alignment-rem))
	}

	digest := sha256.Sum256(payload.Bytes())
	blob := append(digest[:], payload.Bytes()...)

	slog.Info("efuse_encode_complete",
		"records", count,
		"total_length", header.TotalLength,
		"blob_size", len(blob))
	return blob, nil
}

func encodeRecord(w io.Writer, row FuseRow) error {
	valueLen := ValueLength(row.BitWidth)
	if valueLen%4 != 0 {
		return errors.Newf(errors.ErrMalformedValue, "%s: width %d bits gives %d value bytes, not a whole number of words",
			row.Name, row.BitWidth, valueLen)
	}

	fields := strings.Fields(row.Value)
	need := valueLen / 4
	if len(fields) < need {
		return errors.Newf(errors.ErrMalformedValue, "%s: %d bits needs %d words, value has %d",
			row.Name, row.BitWidth, need, len(fields))
	}

	value := make([]byte, valueLen)
	for i := 0; i < need; i++ {
		word, err := parseWord(fields[i])
		if err != nil {
			return errors.Newf(errors.ErrMalformedValue, "%s: word %d %q: %v", row.Name, i, fields[i], err)
		}
		binary.LittleEndian.PutUint32(value[i*4:], word)
	}

	err := binary.Write(w, binary.LittleEndian, recordHeader{
		Size:      RecordHeaderSize,
		BitOffset: row.BitOffset,
		BitWidth:  row.BitWidth,
		ValueLen:  uint16(valueLen),
	})
	if err != nil {
		return errors.Wrapf(err, "%s: failed to write record header", row.Name)
	}
	if _, err := w.Write(value); err != nil {
		return errors.Wrapf(err, "%s: failed to write record value", row.Name)
	}
	return nil
}

func parseWord(s string) (uint32, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

// Decode verifies a fuse blob the way the loader does and returns its records.
func Decode(blob []byte) (*Blob, error) {
	if len(blob) < HeaderSpan {
		return nil, errors.Wrapf(ErrCorruptBlob, "%d bytes is shorter than the header", len(blob))
	}

	var b Blob
	copy(b.Digest[:], blob[:DigestSize])
	if sha256.Sum256(blob[DigestSize:]) != b.Digest {
		return nil, errors.Wrap(ErrCorruptBlob, "digest mismatch")
	}

	var header blobHeader
	if err := binary.Read(bytes.NewReader(blob[DigestSize:HeaderSpan]), binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(ErrCorruptBlob, err.Error())
	}
	if header.Size != HeaderSpan {
		return nil, errors.Wrapf(ErrCorruptBlob, "header size %d", header.Size)
	}
	if int(header.TotalLength) > len(blob) {
		return nil, errors.Wrapf(ErrCorruptBlob, "total length %d exceeds blob size %d", header.TotalLength, len(blob))
	}
	b.TotalLength = header.TotalLength

	off := HeaderSpan
	for i := 0; i < int(header.Count); i++ {
		if off+RecordHeaderSize > int(header.TotalLength) {
			return nil, errors.Wrapf(ErrCorruptBlob, "record %d header out of range", i)
		}
		var rh recordHeader
		if err := binary.Read(bytes.NewReader(blob[off:off+RecordHeaderSize]), binary.LittleEndian, &rh); err != nil {
			return nil, errors.Wrapf(ErrCorruptBlob, "record %d header: %v", i, err)
		}
		start := off + int(rh.Size)
		end := start + int(rh.ValueLen)
		if rh.Size < RecordHeaderSize || end > int(header.TotalLength) {
			return nil, errors.Wrapf(ErrCorruptBlob, "record %d value out of range", i)
		}
		b.Records = append(b.Records, EncodedRecord{
			BitOffset: rh.BitOffset,
			BitWidth:  rh.BitWidth,
			Value:     append([]byte(nil), blob[start:end]...),
		})
		off = end
	}
	if off != int(header.TotalLength) {
		return nil, errors.Wrapf(ErrCorruptBlob, "records end at %d, header says %d", off, header.TotalLength)
	}
	return &b, nil
}

// WriteBlob writes blob to path. On failure path is left untouched.
func WriteBlob(path string, blob []byte) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(blob)
		return errors.Wrap(err, "failed to write fuse blob")
	})
}

// EncodeFile encodes the table at tablePath and writes the blob to blobPath.
// When the table cannot be encoded, a blob left at blobPath by an earlier run
// is removed so it is never packaged in place of the failed one.
func EncodeFile(tablePath, blobPath string) ([]byte, error) {
	t, err := ReadTable(tablePath)
	if err != nil {
		return nil, removeStaleBlob(blobPath, err)
	}
	blob, err := Encode(t)
	if err != nil {
		return nil, removeStaleBlob(blobPath, errors.Wrap(err, "failed to encode fuse table"))
	}
	if err := WriteBlob(blobPath, blob); err != nil {
		return nil, removeStaleBlob(blobPath, err)
	}
	slog.Info("efuse_blob_written", "path", blobPath, "size", len(blob))
	return blob, nil
}

func removeStaleBlob(blobPath string, cause error) error {
	err := os.Remove(blobPath)
	switch {
	case err == nil:
		slog.Warn("efuse_stale_blob_removed", "path", blobPath, "cause", cause)
		return cause
	case os.IsNotExist(err):
		return cause
	default:
		return multierr.Append(cause, errors.Wrap(err, "failed to remove stale fuse blob"))
	}
}
