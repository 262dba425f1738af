package main

import (
	"fmt"
	"os"
)

func main() {
	root := buildRoot(newCommand(os.Stdout))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
