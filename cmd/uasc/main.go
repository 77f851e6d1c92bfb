package main

import (
	"os"

	"github.com/opd-ai/uasc/cmd/uasc/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
