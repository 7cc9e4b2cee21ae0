// Package override temporarily replaces a configuration file and guarantees
// the original is put back.
package override

import (
	"io"
	"log/slog"
	"os"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"go.uber.org/multierr"
)

const backupSuffix = ".bak"

// Override is a held replacement of a base config file. The original is
// kept at path+".bak" until Restore.
type Override struct {
	path     string
	backup   string
	existed  bool
	restored bool
}

// Acquire moves the file at path aside. If a stale backup from an
// interrupted run exists, it is restored first so the original is never lost.
func Acquire(path string) (*Override, error) {
	o := &Override{path: path, backup: path + backupSuffix}

	if _, err := os.Stat(o.backup); err == nil {
		slog.Warn("override_stale_backup_restored", "path", path, "backup", o.backup)
		if err := os.Rename(o.backup, path); err != nil {
			return nil, errors.Wrap(err, "failed to restore stale backup")
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, o.backup); err != nil {
			return nil, errors.Wrap(err, "failed to move config aside")
		}
		o.existed = true
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to stat config")
	}

	slog.Info("override_acquired", "path", path, "had_original", o.existed)
	return o, nil
}

// Apply replaces the base config with the contents of src.
func (o *Override) Apply(src string) error {
	if o.restored {
		return errors.New("override already restored")
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "failed to open override source")
	}
	defer in.Close()

	out, err := os.Create(o.path)
	if err != nil {
		return errors.Wrap(err, "failed to create config")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "failed to copy override")
	}
	return errors.Wrap(out.Close(), "failed to close config")
}

// Restore puts the original file back. It is safe to call more than once.
func (o *Override) Restore() error {
	if o.restored {
		return nil
	}
	o.restored = true

	if !o.existed {
		if err := os.Remove(o.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove override")
		}
		slog.Info("override_restored", "path", o.path, "had_original", false)
		return nil
	}
	if err := os.Rename(o.backup, o.path); err != nil {
		slog.Error("override_restore_failed", "path", o.path, "error", err)
		return errors.Wrap(err, "failed to restore config")
	}
	slog.Info("override_restored", "path", o.path, "had_original", true)
	return nil
}

// With runs fn while path is overridden and restores it on every exit,
// including panics. Restore failures are combined with fn's error.
func With(path string, fn func(*Override) error) (err error) {
	o, err := Acquire(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, o.Restore())
	}()
	return fn(o)
}
