package main

import (
	"fmt"
	"os"

	"github.com/jonwraymond/steadycore/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "steady:", err)
		os.Exit(1)
	}
}
