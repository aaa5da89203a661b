package main

import (
	"os"

	"github.com/omni-build/omni/internal/cmd"
)

// version is overridden at build time via:
//   go build -ldflags "-X main.version=v1.2.3"
var version = "dev"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], version))
}
