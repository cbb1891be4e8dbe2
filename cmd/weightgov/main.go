package main

import (
	"os"

	"github.com/wonny/aegis/weightgov/cmd/weightgov/commands"
)

// main is the entry point for the weightgov CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/weightgov [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
