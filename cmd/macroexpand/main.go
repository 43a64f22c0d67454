package main

import (
	"os"

	"github.com/Iron-Ham/macroexpand/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
