package main

import (
	"log/slog"
	"os"

	"github.com/ws63-tools/fwpack/cmd/fwpack/commands"
)

func main() {
	// Logs go to stderr; stdout carries command output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
