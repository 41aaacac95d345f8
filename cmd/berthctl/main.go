package main

import (
	"os"

	"github.com/moorings/berthhook/cmd/berthctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
