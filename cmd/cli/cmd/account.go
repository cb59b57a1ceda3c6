package cmd

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Show vCPU capacity per region",
	Run: func(cmd *cobra.Command, args []string) {
		capacity, err := newClient().GetCapacity()
		if err != nil {
			printError(cmd, err)
			return
		}

		regions := make([]string, 0, len(capacity))
		for r := range capacity {
			regions = append(regions, r)
		}
		slices.Sort(regions)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REGION\tVCPU LIMIT\tVCPU IN USE\tVCPU PER TASK")
		for _, r := range regions {
			c := capacity[r]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r, formatVCPU(c.VCPULimit), formatVCPU(c.VCPUsInUse), formatVCPU(c.VCPUPerTask))
		}
		w.Flush()
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List running load-test tasks per region",
	Run: func(cmd *cobra.Command, args []string) {
		regions, err := newClient().ListTasks()
		if err != nil {
			printError(cmd, err)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REGION\tTASKS")
		for _, r := range regions {
			fmt.Fprintf(w, "%s\t%d\n", r.Region, len(r.TaskArns))
		}
		w.Flush()
	},
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List regions with stored infrastructure",
	Run: func(cmd *cobra.Command, args []string) {
		regions, err := newClient().ListRegions()
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(regions) == 0 {
			cmd.Println("No regions configured.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REGION\tCLUSTER\tTASK DEFINITION\tAVAILABLE TASKS")
		for _, r := range regions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Region, orDash(r.TaskCluster), orDash(r.TaskDefinition), r.AvailableTasks)
		}
		w.Flush()
	},
}

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Show the deployment stack",
	Run: func(cmd *cobra.Command, args []string) {
		info, err := newClient().StackInfo()
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("%sStack:%s    %s\n", colorDim, colorReset, info.StackName)
		cmd.Printf("%sStatus:%s   %s\n", colorDim, colorReset, info.Status)
		cmd.Printf("%sRegion:%s   %s\n", colorDim, colorReset, orDash(info.Region))
		cmd.Printf("%sVersion:%s  %s\n", colorDim, colorReset, orDash(info.Version))
		cmd.Printf("%sWorkflow:%s %s\n", colorDim, colorReset, orDash(info.WorkflowMode))
	},
}

func init() {
	rootCmd.AddCommand(capacityCmd, tasksCmd, regionsCmd, stackCmd)
}
