// Package main implements the kimerac CLI for manual operations against the
// kimerad HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the kimerad HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kimerac",
	Short: "CLI for kimerad HTTP server operations",
	Long: `kimerac is a command-line interface for interacting with the kimerad
HTTP server. It provides commands for ingesting geoids, triggering
contradiction processing and maintenance, and inspecting vault balance.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "kimerad server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(vaultsCmd)
	rootCmd.AddCommand(feedbackCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check kimerad server health",
	RunE:  runHealth,
}

// ingestCmd creates a geoid from text
var ingestCmd = &cobra.Command{
	Use:   "ingest <text>",
	Short: "Ingest a geoid from text",
	Long: `Ingest a semantic entity. The server embeds the text and stores the
resulting geoid.

Examples:
  # Ingest a concept
  kimerac ingest "water freezes at zero celsius" --type concept

  # Attach symbolic attributes
  kimerac ingest "ice is hot" --type claim --attr temperature=-0.9`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// processCmd triggers contradiction processing for a geoid
var processCmd = &cobra.Command{
	Use:   "process <geoid-id>",
	Short: "Process contradictions for a trigger geoid",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

// maintainCmd runs a full maintenance cycle
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run a full maintenance cycle (decay, fusion, crystallization, insights)",
	RunE:  runMaintain,
}

// vaultsCmd shows vault balance statistics
var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "Show vault balance statistics",
	RunE:  runVaults,
}

// feedbackCmd submits feedback for an insight
var feedbackCmd = &cobra.Command{
	Use:   "feedback <insight-id> <value>",
	Short: "Submit utility feedback for an insight (-1.0 to 1.0)",
	Args:  cobra.ExactArgs(2),
	RunE:  runFeedback,
}

var (
	symbolicType string
	attrs        []string
	searchLimit  int
)

func init() {
	ingestCmd.Flags().StringVar(&symbolicType, "type", "concept", "symbolic type of the geoid")
	ingestCmd.Flags().StringArrayVar(&attrs, "attr", nil, "symbolic attribute as name=value (repeatable)")
	processCmd.Flags().IntVar(&searchLimit, "limit", 0, "candidate search limit (0 = server default)")
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// postJSON posts a JSON body and decodes the response into out when non-nil.
func postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(path string, out any) error {
	resp, err := httpClient().Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHealth(cmd *cobra.Command, args []string) error {
	var out map[string]any
	if err := getJSON("/health", &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runIngest(cmd *cobra.Command, args []string) error {
	attributes := make(map[string]float64, len(attrs))
	for _, a := range attrs {
		name, raw, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid attribute %q, expected name=value", a)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid attribute value in %q: %w", a, err)
		}
		attributes[name] = value
	}

	req := map[string]any{
		"text":          args[0],
		"symbolic_type": symbolicType,
	}
	if len(attributes) > 0 {
		req["attributes"] = attributes
	}

	var out map[string]any
	if err := postJSON("/api/v1/geoids", req, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runProcess(cmd *cobra.Command, args []string) error {
	req := map[string]any{"trigger_id": args[0]}
	if searchLimit > 0 {
		req["search_limit"] = searchLimit
	}
	var out map[string]any
	if err := postJSON("/api/v1/contradictions/process", req, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runMaintain(cmd *cobra.Command, args []string) error {
	var out map[string]any
	if err := postJSON("/api/v1/maintenance/run", map[string]any{}, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runVaults(cmd *cobra.Command, args []string) error {
	var out map[string]any
	if err := getJSON("/api/v1/vaults/stats", &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid feedback value %q: %w", args[1], err)
	}
	return postJSON("/api/v1/insights/"+args[0]+"/feedback", map[string]any{"value": value}, nil)
}
