package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// QueryFlags holds flags for commands that talk to a running launcher.
type QueryFlags struct {
	APIUrl string
	Limit  int
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	query := &QueryFlags{}

	root := &cobra.Command{
		Use:           "appgate",
		Short:         "Launch a desktop application's backend and gate the UI on readiness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&global.ConfigPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(
		createRunCommand(global),
		createStatusCommand(global, query),
		createHistoryCommand(global, query),
	)
	return root
}
