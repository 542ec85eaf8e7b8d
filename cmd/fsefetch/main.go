package main

import (
	"os"

	"github.com/sisstools/fsefetch/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
