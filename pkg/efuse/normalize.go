package efuse

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ws63-tools/fwpack/pkg/errors"
)

// Names of the rows the normalizer computes from the signing parameters.
const (
	NameSecVerifyEnable = "sec_verify_enable"
	NameRootKeyHash     = "root_key_hash"
	NameOEMRootKey      = "otp_oem_mrk"
)

// DemoPlainKey is the placeholder flash encryption key shipped with the SDK.
// Flash encryption keys are never burned while it is configured.
const DemoPlainKey = "8ABDA082DB74753577FF2D1E7D79DAC7"

// Parameter keys read from the signing configuration files.
const (
	keyOEMRootKey = "Omrk1"
	keySignSuite  = "SignSuite"
	keyPlainKey   = "PlainKey"
)

// Sources locates the parameter files the computed rows derive from.
type Sources struct {
	// KeyConfig holds the flash encryption key derivation parameters (Omrk1).
	KeyConfig string
	// SignConfig holds the application signing parameters (SignSuite, PlainKey).
	SignConfig string
	// RootKeyHash holds the hex hash of the root public key.
	RootKeyHash string
}

// DefaultSources returns the SDK file names under signDir.
func DefaultSources(signDir string) Sources {
	return Sources{
		KeyConfig:   filepath.Join(signDir, "encry_config.cfg"),
		SignConfig:  filepath.Join(signDir, "liteos_app_bin_ecc.cfg"),
		RootKeyHash: filepath.Join(signDir, "root_pubk.bin.hash"),
	}
}

// Normalizer rewrites a fuse table so it carries exactly one up-to-date row
// for each computed name.
type Normalizer struct {
	sources Sources
}

// NewNormalizer creates a normalizer reading parameters from src.
func NewNormalizer(src Sources) *Normalizer {
	return &Normalizer{sources: src}
}

// Normalize returns a new table: t without stale computed rows and empty
// rows, followed by freshly derived computed rows. t is not modified.
func (n *Normalizer) Normalize(t *Table) (*Table, error) {
	out := &Table{}
	for _, rec := range t.Records {
		if rec.Empty() || rec.Has(NameSecVerifyEnable) || rec.Has(NameOEMRootKey) || rec.Has(NameRootKeyHash) {
			continue
		}
		out.Records = append(out.Records, rec)
	}

	if _, err := os.Stat(n.sources.RootKeyHash); err == nil {
		words, err := n.rootKeyHashWords()
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records,
			FuseRow{Enabled: true, Name: NameSecVerifyEnable, BitOffset: 960, BitWidth: 1, Value: "0x1", ProgramGroup: "PG0"}.Record(),
			FuseRow{Enabled: true, Name: NameRootKeyHash, BitOffset: 672, BitWidth: 256, Value: words, ProgramGroup: "PG5"}.Record(),
		)
		slog.Info("efuse_secure_boot_rows_added", "hash_file", n.sources.RootKeyHash)
	} else {
		slog.Info("efuse_secure_boot_skipped", "hash_file", n.sources.RootKeyHash)
	}

	encrypt, err := n.flashEncryptionEnabled()
	if err != nil {
		return nil, err
	}
	if encrypt {
		words, err := n.oemRootKeyWords()
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records,
			FuseRow{Enabled: true, Name: NameOEMRootKey, BitOffset: 352, BitWidth: 128, Value: words, ProgramGroup: "PG3"}.Record(),
		)
		slog.Info("efuse_flash_key_row_added", "key_config", n.sources.KeyConfig)
	}

	return out, nil
}

// NormalizeFile normalizes the table at path in place.
func (n *Normalizer) NormalizeFile(path string) error {
	t, err := ReadTable(path)
	if err != nil {
		return err
	}
	normalized, err := n.Normalize(t)
	if err != nil {
		return err
	}
	if err := WriteTable(path, normalized); err != nil {
		return err
	}
	slog.Info("efuse_table_normalized", "path", path, "rows_before", len(t.Records), "rows_after", len(normalized.Records))
	return nil
}

// flashEncryptionEnabled reports whether a real flash encryption key is configured.
// A missing sign config disables flash encryption.
func (n *Normalizer) flashEncryptionEnabled() (bool, error) {
	if _, err := os.Stat(n.sources.SignConfig); os.IsNotExist(err) {
		slog.Info("efuse_sign_config_absent", "path", n.sources.SignConfig)
		return false, nil
	}
	suite, _, err := ReadParam(n.sources.SignConfig, keySignSuite)
	if err != nil {
		return false, err
	}
	plain, _, err := ReadParam(n.sources.SignConfig, keyPlainKey)
	if err != nil {
		return false, err
	}
	return suite == "1" && plain != DemoPlainKey, nil
}

func (n *Normalizer) rootKeyHashWords() (string, error) {
	f, err := os.Open(n.sources.RootKeyHash)
	if err != nil {
		return "", errors.Wrap(err, "failed to open root key hash")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var line string
	if scanner.Scan() {
		line = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "failed to read root key hash")
	}
	if line == "" {
		return "", errors.Newf(errors.ErrConfigMissing, "root key hash is empty in %s", n.sources.RootKeyHash)
	}
	return RootKeyHashWords(line), nil
}

func (n *Normalizer) oemRootKeyWords() (string, error) {
	f, err := os.Open(n.sources.KeyConfig)
	if err != nil {
		return "", errors.Newf(errors.ErrConfigMissing, "%s: %v", keyOEMRootKey, err)
	}
	defer f.Close()

	var key string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, keyOEMRootKey+"="); i >= 0 {
			key = strings.TrimSpace(line[i+len(keyOEMRootKey)+1:])
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "failed to read key config")
	}
	if key == "" {
		return "", errors.Newf(errors.ErrConfigMissing, "%s not set in %s", keyOEMRootKey, n.sources.KeyConfig)
	}
	return OEMRootKeyWords(key), nil
}

// ReadParam returns the value of key in a key=value file. Lines starting
// with '#' are comments. The boolean reports whether the key was present.
func ReadParam(path, key string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to open parameter file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, errors.Wrap(err, "failed to read parameter file")
	}
	return "", false, nil
}

// RootKeyHashWords converts a hex hash into space separated 32-bit words,
// reversing the byte order inside every 8-character chunk.
func RootKeyHashWords(hash string) string {
	var words []string
	for i := 0; i < len(hash); i += 8 {
		words = append(words, "0x"+span(hash, i+6, i+8)+span(hash, i+4, i+6)+span(hash, i+2, i+4)+span(hash, i, i+2))
	}
	return strings.Join(words, " ")
}

// OEMRootKeyWords converts the OEM root key into space separated 32-bit
// words: the 4-character groups are reversed, then the halves of every
// 8-character word are swapped.
func OEMRootKeyWords(key string) string {
	var groups []string
	for i := 0; i < len(key); i += 4 {
		groups = append(groups, span(key, i, i+4))
	}
	for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
		groups[i], groups[j] = groups[j], groups[i]
	}
	reversed := strings.Join(groups, "")

	var words []string
	for i := 0; i < len(reversed); i += 8 {
		words = append(words, "0x"+span(reversed, i+4, i+8)+span(reversed, i, i+4))
	}
	return strings.Join(words, " ")
}

// span returns s[i:j] clamped to the length of s.
func span(s string, i, j int) string {
	if i > len(s) {
		i = len(s)
	}
	if j > len(s) {
		j = len(s)
	}
	return s[i:j]
}
