// Package main is the entry point for the chatctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Command-line client for the Eloquent Operator chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newLoginCmd(),
		newSignupCmd(),
		newGuestCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newListCmd(),
		newHistoryCmd(),
		newSendCmd(),
		newChatCmd(),
		newDeleteCmd(),
		newSummarizeCmd(),
		newServeCmd(),
	)

	return root
}
