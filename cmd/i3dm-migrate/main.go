/*
This is the entrypoint for the i3dm-migrate binary.
*/
package main

import (
	"fmt"
	"os"

	"github.com/flywave/go-i3dm/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
