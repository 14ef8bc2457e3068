package main

import (
	"log/slog"

	"github.com/joho/godotenv"

	"terminal-log-sync/cmd"
)

func main() {
	// Load .env before anything reads the environment. A missing file is
	// fine, the environment itself still applies.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cmd.Execute()
}
