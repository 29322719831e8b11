package main

import (
	"os"

	"github.com/arpitpandey/jobagent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
