package main

import (
	"fmt"
	"os"

	"github.com/lyzr/mend/cmd/mendctl/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
