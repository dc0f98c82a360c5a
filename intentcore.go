package main

import (
	"github.com/joho/godotenv"

	cli "github.com/neboloop/intentcore/cmd/intentcore"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cli.Execute()
}
