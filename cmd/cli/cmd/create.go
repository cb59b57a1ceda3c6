package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"loadplane/pkg/api"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or update a test and launch it",
	Long: `Create a test from a JSON request file and launch it immediately.
Passing a file that carries an existing testId updates that test and starts a new run.

Example:
  loadctl create -f scenario.json
  loadctl create -f scenario.json --name "checkout flow"`,
	Run: func(cmd *cobra.Command, args []string) {
		runCreate(cmd, false)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule a test for later or on a recurrence",
	Long: `Schedule a test from a JSON request file. The file sets scheduleDate and
scheduleTime for a one-off run, plus recurrence or cronValue for repeated runs.

Example:
  loadctl schedule -f nightly.json
  loadctl schedule -f nightly.json --cron "0 2 * * ? *" --expiry 2026-12-31`,
	Run: func(cmd *cobra.Command, args []string) {
		runCreate(cmd, true)
	},
}

func runCreate(cmd *cobra.Command, schedule bool) {
	flags := cmd.Flags()
	file, _ := flags.GetString("file")

	if file == "" {
		cmd.Println("Error: --file is required")
		return
	}

	req, err := readRequest(file)
	if err != nil {
		cmd.Printf("Error: %v\n", err)
		return
	}
	if name, _ := flags.GetString("name"); name != "" {
		req.TestName = name
	}
	if testID, _ := flags.GetString("id"); testID != "" {
		req.TestID = testID
	}
	if schedule {
		if cron, _ := flags.GetString("cron"); cron != "" {
			req.CronValue = cron
		}
		if expiry, _ := flags.GetString("expiry"); expiry != "" {
			req.CronExpiryDate = expiry
		}
	}

	client := newClient()
	var result json.RawMessage
	if schedule {
		result, err = client.ScheduleTest(req)
	} else {
		result, err = client.CreateTest(req)
	}
	if err != nil {
		printError(cmd, err)
		return
	}

	var created struct {
		TestID    string `json:"testId"`
		TestRunID string `json:"testRunId"`
		Status    string `json:"status"`
		NextRun   string `json:"nextRun"`
	}
	_ = json.Unmarshal(result, &created)

	if schedule {
		cmd.Printf("✓ Test scheduled!\nID: %s\nStatus: %s\n", created.TestID, created.Status)
		if created.NextRun != "" {
			cmd.Printf("Next run: %s\n", created.NextRun)
		}
		return
	}
	cmd.Printf("✓ Test launched!\nID: %s\nRun: %s\nStatus: %s\n", created.TestID, created.TestRunID, created.Status)
}

// readRequest loads a create request from a JSON file. Unknown fields are
// rejected so typos surface before the request is sent.
func readRequest(path string) (api.CreateTestRequest, error) {
	var req api.CreateTestRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return req, nil
}

func init() {
	for _, c := range []*cobra.Command{createCmd, scheduleCmd} {
		flags := c.Flags()
		flags.StringP("file", "f", "", "JSON request file (required)")
		flags.StringP("name", "n", "", "Override the test name")
		flags.String("id", "", "Existing test ID to update")
		rootCmd.AddCommand(c)
	}
	scheduleCmd.Flags().String("cron", "", "Cron expression, overrides the file")
	scheduleCmd.Flags().String("expiry", "", "Last date (YYYY-MM-DD) of a cron schedule")
}
