package main

import (
	"os"

	"github.com/go-delve/pintrace/cmd/tracer/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
