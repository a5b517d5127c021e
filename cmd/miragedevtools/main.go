// Command miragedevtools is a small operator CLI for exercising the
// core library end-to-end: a loopback sender/assembler pipeline and a
// debug metrics feed. The core itself has no CLI (spec §6); this
// binary exists purely to drive it, in the spirit of the teacher's own
// cmd/moonparty thin-driver convention.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "miragedevtools",
	Short: "Developer tools for the mirage relay core",
}

func main() {
	rootCmd.AddCommand(loopbackCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
