package efuse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

const testHash = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const wantHashWords = "0x67452301 0xefcdab89 0x67452301 0xefcdab89 0x67452301 0xefcdab89 0x67452301 0xefcdab89"

type signFiles struct {
	hash       string
	keyConfig  string
	signConfig string
}

func writeSources(t *testing.T, files signFiles) Sources {
	t.Helper()
	dir := t.TempDir()
	src := DefaultSources(dir)

	write := func(path, content string) {
		if content == "" {
			return
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(src.RootKeyHash, files.hash)
	write(src.KeyConfig, files.keyConfig)
	write(src.SignConfig, files.signConfig)
	return src
}

func TestRootKeyHashWords(t *testing.T) {
	if got := RootKeyHashWords(testHash); got != wantHashWords {
		t.Errorf("RootKeyHashWords = %q, want %q", got, wantHashWords)
	}
}

func TestOEMRootKeyWords(t *testing.T) {
	got := OEMRootKeyWords("00112233445566778899AABBCCDDEEFF")
	want := "0xCCDDEEFF 0x8899AABB 0x44556677 0x00112233"
	if got != want {
		t.Errorf("OEMRootKeyWords = %q, want %q", got, want)
	}
}

func TestNormalize_ReplacesComputedRows(t *testing.T) {
	src := writeSources(t, signFiles{
		hash:       testHash + "\n",
		keyConfig:  "# flash key\nOmrk1=00112233445566778899AABBCCDDEEFF\n",
		signConfig: "SignSuite=1\nPlainKey=11111111111111111111111111111111\n",
	})

	table := mustParse(t,
		"1,user_bit,100,16,0x1,PG1\n"+
			"1,sec_verify_enable,960,1,0x0,PG0\n"+
			",,,,,\n"+
			"1,root_key_hash,672,256,stale,PG5\n"+
			"0,other,200,8,0x2,PG2\n"+
			"1,otp_oem_mrk,352,128,stale,PG3\n")

	got, err := NewNormalizer(src).Normalize(table)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	want := []Record{
		{"1", "user_bit", "100", "16", "0x1", "PG1"},
		{"0", "other", "200", "8", "0x2", "PG2"},
		{"1", "sec_verify_enable", "960", "1", "0x1", "PG0"},
		{"1", "root_key_hash", "672", "256", wantHashWords, "PG5"},
		{"1", "otp_oem_mrk", "352", "128", "0xCCDDEEFF 0x8899AABB 0x44556677 0x00112233", "PG3"},
	}
	if diff := cmp.Diff(want, got.Records); diff != "" {
		t.Errorf("normalized table mismatch (-want +got):\n%s", diff)
	}

	if len(table.Records) != 6 {
		t.Errorf("input table was modified: %d records", len(table.Records))
	}
}

func TestNormalize_SkipsDisabledSources(t *testing.T) {
	tests := []struct {
		name       string
		signConfig string
	}{
		{"demo key", "SignSuite=1\nPlainKey=" + DemoPlainKey + "\n"},
		{"suite off", "SignSuite=0\nPlainKey=11111111111111111111111111111111\n"},
		{"commented", "#SignSuite=1\nPlainKey=11111111111111111111111111111111\n"},
		{"no sign config", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSources(t, signFiles{signConfig: tt.signConfig})
			got, err := NewNormalizer(src).Normalize(mustParse(t, "1,user_bit,100,16,0x1,PG1\n"))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if len(got.Records) != 1 {
				t.Errorf("got %d records, want only the user row: %v", len(got.Records), got.Records)
			}
		})
	}
}

func TestNormalize_ConfigMissing(t *testing.T) {
	tests := []struct {
		name  string
		files signFiles
	}{
		{"empty hash", signFiles{hash: "\n"}},
		{"no omrk", signFiles{
			keyConfig:  "Other=1\n",
			signConfig: "SignSuite=1\nPlainKey=11111111111111111111111111111111\n",
		}},
		{"no key config", signFiles{
			signConfig: "SignSuite=1\nPlainKey=11111111111111111111111111111111\n",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSources(t, tt.files)
			_, err := NewNormalizer(src).Normalize(&Table{})
			if !errors.Is(err, errors.ErrConfigMissing) {
				t.Errorf("Normalize error = %v, want ErrConfigMissing", err)
			}
		})
	}
}

func TestNormalizeFile_Idempotent(t *testing.T) {
	src := writeSources(t, signFiles{
		hash:       testHash,
		keyConfig:  "Omrk1=00112233445566778899AABBCCDDEEFF\n",
		signConfig: "SignSuite=1\nPlainKey=11111111111111111111111111111111\n",
	})
	path := filepath.Join(t.TempDir(), "efuse.csv")
	if err := os.WriteFile(path, []byte("1,user_bit,100,16,0x1,PG1\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	n := NewNormalizer(src)
	if err := n.NormalizeFile(path); err != nil {
		t.Fatalf("first NormalizeFile: %v", err)
	}
	first, _ := os.ReadFile(path)

	if err := n.NormalizeFile(path); err != nil {
		t.Fatalf("second NormalizeFile: %v", err)
	}
	second, _ := os.ReadFile(path)

	if string(first) != string(second) {
		t.Errorf("second run changed the table:\n%s\n---\n%s", first, second)
	}
	for _, name := range []string{NameSecVerifyEnable, NameRootKeyHash, NameOEMRootKey} {
		if c := strings.Count(string(second), ","+name+","); c != 1 {
			t.Errorf("%s appears %d times, want 1", name, c)
		}
	}
	if !strings.HasSuffix(string(second), "\r\n") {
		t.Error("table not written with CRLF line endings")
	}
}

func TestReadParam(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sign.cfg")
	if err := os.WriteFile(path, []byte("# comment=1\n SignSuite = 1 \nPlainKey=ABC\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if v, ok, err := ReadParam(path, "SignSuite"); err != nil || !ok || v != "1" {
		t.Errorf("ReadParam(SignSuite) = %q, %v, %v", v, ok, err)
	}
	if _, ok, err := ReadParam(path, "comment"); err != nil || ok {
		t.Errorf("ReadParam(comment) found a commented key: %v, %v", ok, err)
	}
}
