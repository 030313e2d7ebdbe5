package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/fitgate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance server",
	Long: `Start the FitGate HTTP server.

Configuration is read from the config file (--config) when it exists,
otherwise from FITGATE_* environment variables. The master encryption
key always comes from the environment and is required.

Examples:
  fitgate serve
  fitgate serve --config /etc/fitgate/fitgate.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(cfgFile)
	if err != nil {
		return err
	}
	return a.Run()
}
