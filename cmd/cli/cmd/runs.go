package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [test_id]",
	Short: "List the runs of a test",
	Long: `List the runs of a test, newest first. Use --next-token with the token
printed at the bottom to fetch the following page.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		opts := RunsOptions{}
		opts.Limit, _ = flags.GetInt("limit")
		opts.Latest, _ = flags.GetBool("latest")
		opts.NextToken, _ = flags.GetString("next-token")
		opts.Start, _ = flags.GetString("start")
		opts.End, _ = flags.GetString("end")

		resp, err := newClient().GetTestRuns(args[0], opts)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(resp.TestRuns) == 0 {
			cmd.Println("No runs found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tSTATUS\tSTART TIME\tEND TIME\tREQUESTS\tAVG RT")
		for _, run := range resp.TestRuns {
			requests, avg := "-", "-"
			if run.Results != nil {
				requests = fmt.Sprint(run.Results.SuccessCount + run.Results.FailCount)
				avg = formatMs(run.Results.AvgRt)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				run.TestRunID, run.Status, run.StartTime, orDash(run.EndTime), requests, avg)
		}
		w.Flush()

		if token := deref(resp.Pagination.NextToken); token != "" {
			cmd.Printf("\nMore runs available: --next-token %s\n", token)
		}
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune [test_id] [run_id...]",
	Short: "Delete runs of a test",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := newClient().DeleteTestRuns(args[0], args[1:])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Deleted %d run(s)\n", n)
	},
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the baseline run of a test",
	Long:  `The baseline is the run other runs of the same test are compared against.`,
}

var baselineSetCmd = &cobra.Command{
	Use:   "set [test_id] [run_id]",
	Short: "Pin a run as the baseline",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().SetBaseline(args[0], args[1])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ %s\n", resp.Message)
		if prev := deref(resp.PreviousBaselineID); prev != "" {
			cmd.Printf("Previous baseline: %s\n", prev)
		}
	},
}

var baselineGetCmd = &cobra.Command{
	Use:   "get [test_id]",
	Short: "Show the baseline run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withResults, _ := cmd.Flags().GetBool("results")

		resp, err := newClient().GetBaseline(args[0], withResults)
		if err != nil {
			printError(cmd, err)
			return
		}
		id := deref(resp.BaselineID)
		if id == "" {
			cmd.Printf("No baseline set for %s\n", args[0])
			return
		}
		cmd.Printf("Baseline: %s\n", id)
		if resp.Warning != "" {
			cmd.Printf("%sWarning:%s %s\n", colorYellow, colorReset, resp.Warning)
		}
		if len(resp.TestRunDetails) > 0 {
			printJSON(cmd, resp.TestRunDetails)
		}
	},
}

var baselineClearCmd = &cobra.Command{
	Use:   "clear [test_id]",
	Short: "Remove the baseline",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().ClearBaseline(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ %s\n", resp.Message)
	},
}

func init() {
	flags := runsCmd.Flags()
	flags.Int("limit", 20, "Maximum number of runs (1-100)")
	flags.Bool("latest", false, "Only the most recent run")
	flags.String("next-token", "", "Pagination token from a previous call")
	flags.String("start", "", "Only runs started at or after this ISO-8601 time")
	flags.String("end", "", "Only runs started at or before this ISO-8601 time")

	baselineGetCmd.Flags().Bool("results", false, "Include the run's results")

	baselineCmd.AddCommand(baselineSetCmd, baselineGetCmd, baselineClearCmd)
	rootCmd.AddCommand(runsCmd, pruneCmd, baselineCmd)
}
