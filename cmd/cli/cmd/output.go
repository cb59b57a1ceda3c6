package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"loadplane/pkg/api"

	"github.com/spf13/cobra"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "complete":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "scheduled":
		return colorCyan + "◯" + colorReset
	case "cancelling", "cancelled":
		return colorDim + "⊘" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "complete":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "running":
		return icon + " " + colorYellow + status + colorReset
	case "scheduled":
		return icon + " " + colorCyan + status + colorReset
	case "":
		return "-"
	default:
		return icon + " " + status
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "ms"
}

// printResults renders the headline metrics of a run.
func printResults(cmd *cobra.Command, r *api.Results) {
	if r == nil {
		cmd.Printf("%sResults:%s     -\n", colorDim, colorReset)
		return
	}
	total := r.SuccessCount + r.FailCount
	cmd.Printf("%sRequests:%s    %d (%s%d failed%s)\n", colorDim, colorReset, total, colorRed, r.FailCount, colorReset)
	cmd.Printf("%sThroughput:%s  %.1f req/s\n", colorDim, colorReset, r.Throughput)
	cmd.Printf("%sAvg RT:%s      %s\n", colorDim, colorReset, formatMs(r.AvgRt))
	cmd.Printf("%sP90/P95/P99:%s %s / %s / %s\n", colorDim, colorReset, formatMs(r.P90), formatMs(r.P95), formatMs(r.P99))
}

// printJSON writes raw indented.
func printJSON(cmd *cobra.Command, raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		cmd.Println(string(raw))
		return
	}
	cmd.Println(buf.String())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatVCPU(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%g", *v)
}
