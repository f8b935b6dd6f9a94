package main

import (
	"fmt"
	"os"

	"github.com/dunamismax/kronos/internal/cli"
	"github.com/dunamismax/kronos/internal/imageprep"
)

var version = "dev"

func main() {
	if err := imageprep.Startup(); err != nil {
		fmt.Fprintln(os.Stderr, "kronos:", err)
		os.Exit(1)
	}

	err := cli.NewRootCmd(version).Execute()
	imageprep.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kronos:", err)
		os.Exit(1)
	}
}
