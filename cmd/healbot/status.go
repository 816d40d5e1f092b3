package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Get the status of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/results/" + args[0])
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Status string `json:"status"`
		RunID  string `json:"runId"`
		Logs   []struct {
			Event   string `json:"event"`
			Agent   string `json:"agent"`
			Message string `json:"message"`
		} `json:"logs"`
		Result *struct {
			Branch      string `json:"branch"`
			FinalStatus string `json:"finalStatus"`
			TotalFixes  int    `json:"totalFixes"`
			TotalTime   string `json:"totalTime"`
			Score       struct {
				Total int `json:"total"`
			} `json:"scoreBreakdown"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("Run:    %s\n", result.RunID)
	fmt.Printf("Status: %s\n", result.Status)

	if result.Result != nil {
		fmt.Printf("Branch: %s\n", result.Result.Branch)
		fmt.Printf("Result: %s with %d fixes in %s (score %d)\n",
			result.Result.FinalStatus, result.Result.TotalFixes,
			result.Result.TotalTime, result.Result.Score.Total)
		return nil
	}

	if len(result.Logs) > 0 {
		fmt.Println("\nRecent activity:")
		for _, e := range result.Logs {
			fmt.Printf("  [%s] %s\n", e.Agent, e.Message)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/runs")
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var runs []struct {
		ID      string `json:"id"`
		RepoURL string `json:"repoUrl"`
		Branch  string `json:"branch"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs yet.")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%-10s %-10s %-30s %s\n", r.ID, r.Status, r.Branch, r.RepoURL)
	}
	return nil
}
