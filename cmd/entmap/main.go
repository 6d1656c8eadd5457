// Command entmap compiles entity declarations and maps CSV batches into
// validated, linked entities.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/entmap/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "entmap:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
