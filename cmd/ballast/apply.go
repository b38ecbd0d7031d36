package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest file",
	Long: `Apply resources from a YAML manifest file to a running engine.

Examples:
  # Apply a workload definition
  ballast apply -f workload.yaml

  # Apply a file with multiple documents
  ballast apply -f stack.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest file to apply (required)")
	applyCmd.Flags().String("server", "http://127.0.0.1:7600", "Engine API address")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	resp, err := http.Post(server+"/api/v1/apply", "application/yaml", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to reach engine at %s: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apply failed: %s", readError(resp.Body))
	}

	var result struct {
		Applied []struct {
			Kind string `json:"kind"`
			Name string `json:"name"`
		} `json:"applied"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	for _, res := range result.Applied {
		fmt.Printf("✓ %s applied: %s\n", res.Kind, res.Name)
	}
	return nil
}

// readError extracts the error message from an API error response
func readError(body io.Reader) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err.Error()
	}
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return string(raw)
}
