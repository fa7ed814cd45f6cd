// aiaim drives an AI agent through a propose, judge and revise loop until
// the task is judged complete or the iteration bound is reached.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/veictry/aiaim/internal/cli"
)

func main() {
	// A .env in the workspace may hold the backend's API key.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
