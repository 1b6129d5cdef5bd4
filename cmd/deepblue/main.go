// Command deepblue loads genomic region catalogs and queries them.
package main

import (
	"fmt"
	"os"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
