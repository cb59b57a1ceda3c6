package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"loadplane/pkg/api"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tests",
	Long:  `List every test, optionally only those carrying all of the given tags.`,
	Run: func(cmd *cobra.Command, args []string) {
		tags, _ := cmd.Flags().GetStringSlice("tag")

		scenarios, err := newClient().ListScenarios(tags)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(scenarios) == 0 {
			cmd.Println("No tests found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TEST ID\tNAME\tSTATUS\tRUNS\tSTART TIME\tNEXT RUN\tTAGS")
		for _, s := range scenarios {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				s.TestID, s.TestName, orDash(s.Status), s.TotalRuns,
				orDash(s.StartTime), orDash(s.NextRun), strings.Join(s.Tags, ","))
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [test_id]",
	Short: "Show a test",
	Long:  `Show a test's configuration, its latest run and, unless --no-history is set, its completed runs.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		noHistory, _ := flags.GetBool("no-history")
		latest, _ := flags.GetBool("latest")
		asJSON, _ := flags.GetBool("json")

		raw, err := newClient().GetTest(args[0], !noHistory, latest)
		if err != nil {
			printError(cmd, err)
			return
		}
		if asJSON {
			printJSON(cmd, raw)
			return
		}

		var details testDetails
		if err := json.Unmarshal(raw, &details); err != nil {
			cmd.Printf("Failed to parse response: %v\n", err)
			return
		}
		printTest(cmd, details)
	},
}

// testDetails is the subset of GET /scenarios/{id} the CLI renders.
type testDetails struct {
	TestID             string               `json:"testId"`
	TestName           string               `json:"testName"`
	TestDescription    string               `json:"testDescription"`
	TestType           string               `json:"testType"`
	Status             string               `json:"status"`
	StartTime          string               `json:"startTime"`
	EndTime            string               `json:"endTime"`
	NextRun            string               `json:"nextRun"`
	TestRunID          string               `json:"testRunId"`
	BaselineID         string               `json:"baselineId"`
	ScheduleRecurrence string               `json:"scheduleRecurrence"`
	CronValue          string               `json:"cronValue"`
	TestTaskConfigs    []api.TaskConfig     `json:"testTaskConfigs"`
	Results            *api.Results         `json:"results"`
	History            []api.TestRunSummary `json:"history"`
}

func printTest(cmd *cobra.Command, d testDetails) {
	cmd.Printf("%s %s%s%s\n", statusIcon(d.Status), colorBold, d.TestName, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, d.TestID)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, orDash(d.TestType))
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(d.Status))
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, orDash(d.StartTime))
	cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, orDash(d.EndTime))
	if d.NextRun != "" {
		cmd.Printf("%sNext run:%s    %s\n", colorDim, colorReset, d.NextRun)
	}
	if d.CronValue != "" {
		cmd.Printf("%sCron:%s        %s\n", colorDim, colorReset, d.CronValue)
	} else if d.ScheduleRecurrence != "" {
		cmd.Printf("%sRecurrence:%s  %s\n", colorDim, colorReset, d.ScheduleRecurrence)
	}
	cmd.Printf("%sBaseline:%s    %s\n", colorDim, colorReset, orDash(d.BaselineID))
	for _, tc := range d.TestTaskConfigs {
		cmd.Printf("%sRegion:%s      %s (%s tasks x %s users)\n", colorDim, colorReset, tc.Region, tc.TaskCount, tc.Concurrency)
	}
	cmd.Printf("%sLatest run:%s  %s\n", colorDim, colorReset, orDash(d.TestRunID))
	printResults(cmd, d.Results)

	if len(d.History) == 0 {
		return
	}
	cmd.Println()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tSTART TIME\tEND TIME")
	for _, run := range d.History {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", run.TestRunID, run.Status, run.StartTime, orDash(run.EndTime))
	}
	w.Flush()
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [test_id]",
	Short: "Cancel a running test",
	Long:  `Signal a running test to stop. Tasks are stopped asynchronously; use 'loadctl get' to follow the status.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		msg, err := newClient().CancelTest(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ %s\n", msg)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [test_id]",
	Short: "Delete a test and its history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		msg, err := newClient().DeleteTest(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Test %s deleted (%s)\n", args[0], msg)
	},
}

func init() {
	listCmd.Flags().StringSlice("tag", nil, "Only list tests carrying this tag (repeatable)")

	getCmd.Flags().Bool("no-history", false, "Omit the run history")
	getCmd.Flags().Bool("latest", false, "Return the latest run even while it is still running")
	getCmd.Flags().Bool("json", false, "Print the raw JSON response")

	rootCmd.AddCommand(listCmd, getCmd, cancelCmd, deleteCmd)
}
