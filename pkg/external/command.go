// Package external runs the out-of-process collaborators: the package
// serializer, the OTA package generator and the SDK build driver.
package external

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

// Command is a configured external tool invocation.
type Command struct {
	argv []string
	dir  string
}

// ParseCommand splits a command line with shell quoting rules.
func ParseCommand(line string) (Command, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return Command{}, errors.Wrapf(err, "invalid command %q", line)
	}
	if len(argv) == 0 {
		return Command{}, errors.Newf(errors.ErrConfigMissing, "empty command")
	}
	return Command{argv: argv}, nil
}

// InDir returns a copy of c running in dir.
func (c Command) InDir(dir string) Command {
	c.dir = dir
	return c
}

// String returns the command line.
func (c Command) String() string {
	return strings.Join(c.argv, " ")
}

// Run executes the command with extra arguments appended. Any failure,
// including a non-zero exit, is reported as ErrExternalTool with the
// tail of the tool output.
func (c Command) Run(ctx context.Context, args ...string) error {
	argv := append(append([]string(nil), c.argv...), args...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Info("external_command_start", "command", argv[0], "args", len(argv)-1, "dir", c.dir)
	if err := cmd.Run(); err != nil {
		slog.Error("external_command_failed", "command", argv[0], "error", err, "output", tail(out.String(), 512))
		return errors.Newf(errors.ErrExternalTool, "%s: %v: %s", argv[0], err, tail(out.String(), 512))
	}
	slog.Info("external_command_complete", "command", argv[0])
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
