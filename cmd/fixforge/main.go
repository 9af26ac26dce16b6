package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/fixforge/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var incErr *cli.IncompleteError
		if errors.As(err, &incErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
