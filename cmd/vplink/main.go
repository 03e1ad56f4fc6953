package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "vplink",
		Short:         "Run a virtual prototype and talk to it over its UART pipes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config (default $VPLINK_CONFIG or vplink.yaml)")

	load := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), configPath, cmd.ErrOrStderr())
	}
	root.AddCommand(
		probeCmd(load),
		runCmd(load),
		flashCmd(load),
		sessionsCmd(load),
	)
	return root
}
