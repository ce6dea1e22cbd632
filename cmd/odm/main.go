package main

import (
	"os"

	"github.com/conduit-lang/odm/internal/cli/commands"
)

func main() {
	if err := commands.Execute(commands.Options{}); err != nil {
		os.Exit(1)
	}
}
