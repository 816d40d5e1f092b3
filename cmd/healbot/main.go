// healbot is an autonomous DevOps agent: point it at a repository and it
// reproduces the failing tests in a sandbox, generates and applies fixes,
// pushes them to a dedicated branch, watches CI, and scores the run.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "healbot",
	Short: "healbot - autonomous test-failure healer",
	Long: `healbot clones a repository, reproduces its test failures in a sandbox,
generates fixes, pushes them to a dedicated branch, and reports a scored result.

  healbot serve                                                  Start the server
  healbot run https://github.com/owner/repo --team t --leader l  Start a healing run
  healbot status <run-id>                                        Check run status`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("HEALBOT_SERVER", "http://localhost:8080"), "healbot server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
