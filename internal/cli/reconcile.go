package cli

import (
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one unhandled-payments sweep immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reconcile(cmd.Context())
	},
}
