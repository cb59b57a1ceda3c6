package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loadctl",
	Short: "loadctl is a command line tool for interacting with the loadplane engine",
	Long: `loadctl is the command-line interface for the loadplane load-test engine.

loadplane stores load-test scenarios, launches them across one or more regions,
schedules one-off and recurring runs, and keeps the history and baseline of
every scenario.

Common workflows:

  Create and launch a test from a scenario file:
    loadctl create -f scenario.json

  Schedule a test:
    loadctl schedule -f nightly.json

  Inspect a test and its runs:
    loadctl get <test-id>
    loadctl runs <test-id> --limit 10

  Pin a run as the baseline:
    loadctl baseline set <test-id> <run-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    LOADPLANE_URL      API endpoint (default: http://localhost:6161)
    LOADPLANE_TOKEN    Operator API key`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".loadctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".loadctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "LOADPLANE_VARNAME"
	viper.SetEnvPrefix("LOADPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the resolved url and token.
func newClient() *LoadClient {
	return NewLoadClient(viper.GetString("url"), viper.GetString("token"))
}

// printError reports err, unwrapping the API's error body when there is one.
func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		if apiErr.Code != "" {
			cmd.Printf("Error (%d %s): %s\n", apiErr.StatusCode, apiErr.Code, apiErr.Message)
			return
		}
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loadctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "loadplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Operator API key")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
