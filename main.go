package main

import (
	"os"

	"github.com/kilianp07/transitsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
