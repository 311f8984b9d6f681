package main

import (
	"os"

	"github.com/mr1hm/offline-alert-relay/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
