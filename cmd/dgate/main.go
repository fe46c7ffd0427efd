// Command dgate drives decision-gate scenarios from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/dgate/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.GetExitCode(err))
}
