package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ambassadorctl",
		Short:         "Operator tool for the ambassador program",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config.yaml (defaults to ./config.yaml and the environment)")

	root.AddCommand(advanceCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(accrueCmd())
	root.AddCommand(markPaidCmd())
	root.AddCommand(setPlanCmd())
	root.AddCommand(summaryCmd())
	return root
}
