package main

import (
	"os"

	"github.com/nebrix/klokpilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
