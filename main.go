package main

import (
	"os"

	"github.com/kyleking/rafs-ddms/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
