package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	runTeam   string
	runLeader string
)

var runCmd = &cobra.Command{
	Use:   "run [repo-url]",
	Short: "Start a healing run against a repository",
	Long: `Submit a repository to the healbot server. The agent clones it, reproduces
the failing tests in a sandbox, applies generated fixes, and pushes them to a
dedicated branch.

Example:
  healbot run https://github.com/myorg/myapp --team "team rocket" --leader jessie`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runTeam, "team", "t", "", "Team name (used to derive the branch)")
	runCmd.Flags().StringVarP(&runLeader, "leader", "l", "", "Leader name (used to derive the branch)")
	runCmd.MarkFlagRequired("team")
	runCmd.MarkFlagRequired("leader")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	payload, _ := json.Marshal(map[string]string{
		"repoUrl":    args[0],
		"teamName":   runTeam,
		"leaderName": runLeader,
	})

	resp, err := http.Post(serverURL+"/api/run-agent", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: healbot serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var started struct {
		Status  string `json:"status"`
		RunID   string `json:"runId"`
		Branch  string `json:"branch"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("Run started: %s\n", started.RunID)
	fmt.Printf("Branch:      %s\n", started.Branch)
	fmt.Printf("\nFollow progress with: healbot status %s\n", started.RunID)
	return nil
}
