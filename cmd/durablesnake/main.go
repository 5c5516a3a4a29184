package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/danthegoodman1/DurableSnake/cmd/durablesnake/cmd"
)

// Version information, set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Load .env if present; real environment variables take precedence.
	_ = godotenv.Load()

	cmd.SetVersion(version, commit)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
