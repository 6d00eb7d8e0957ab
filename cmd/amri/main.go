// Amri — shell command execution engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "amri",
	Short: "Amri — shell command execution engine.",
	Long: `Amri runs shell commands on behalf of remote callers. Each request either
gets a fresh, isolated shell or is fed into one persistent interactive shell,
with per-request deadlines, configurable kill signals, and optional
user switching through an su-style wrapper.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, execCmd, shellCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
