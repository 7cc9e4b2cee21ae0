package override

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ws63-tools/fwpack/pkg/errors"
)

func setup(t *testing.T) (base, variant string) {
	t.Helper()
	dir := t.TempDir()
	base = filepath.Join(dir, "ws63_liteos_app.config")
	variant = filepath.Join(dir, "variant.config")
	if err := os.WriteFile(base, []byte("CONFIG_BASE=y\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(variant, []byte("CONFIG_VARIANT=y\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return base, variant
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(got) != want {
		t.Errorf("%s = %q, want %q", path, got, want)
	}
}

func TestWith_RestoresOnSuccess(t *testing.T) {
	base, variant := setup(t)

	err := With(base, func(o *Override) error {
		if err := o.Apply(variant); err != nil {
			return err
		}
		assertContent(t, base, "CONFIG_VARIANT=y\n")
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	assertContent(t, base, "CONFIG_BASE=y\n")
	if _, err := os.Stat(base + ".bak"); !os.IsNotExist(err) {
		t.Error("backup left behind")
	}
}

func TestWith_RestoresOnError(t *testing.T) {
	base, variant := setup(t)
	buildErr := errors.Newf(errors.ErrExternalTool, "build failed")

	err := With(base, func(o *Override) error {
		o.Apply(variant)
		return buildErr
	})
	if !errors.Is(err, errors.ErrExternalTool) {
		t.Errorf("With error = %v, want the build error", err)
	}
	assertContent(t, base, "CONFIG_BASE=y\n")
}

func TestWith_RestoresOnPanic(t *testing.T) {
	base, variant := setup(t)

	func() {
		defer func() { recover() }()
		With(base, func(o *Override) error {
			o.Apply(variant)
			panic("boom")
		})
	}()
	assertContent(t, base, "CONFIG_BASE=y\n")
}

func TestAcquire_RecoversStaleBackup(t *testing.T) {
	base, _ := setup(t)
	// Simulate a run killed after moving the base aside.
	if err := os.Rename(base, base+".bak"); err != nil {
		t.Fatal(err)
	}

	o, err := Acquire(base)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := o.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	assertContent(t, base, "CONFIG_BASE=y\n")
}

func TestRestore_NoOriginal(t *testing.T) {
	_, variant := setup(t)
	path := filepath.Join(t.TempDir(), "absent.config")

	o, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := o.Apply(variant); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := o.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := o.Restore(); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("override file left behind")
	}
}
