package main

import (
	"os"

	"github.com/Kylo111/make-it-heavy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
