package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pinCmd = &cobra.Command{
	Use:   "pin <username>",
	Short: "Change the PIN protecting a stored key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			oldPIN, err := readSecret(a.prompter, "Current PIN: ")
			if err != nil {
				return err
			}
			newPIN, err := readNewPIN(a.prompter, "New PIN")
			if err != nil {
				return err
			}
			if err := a.manager.ChangePIN(ctx, args[0], oldPIN, newPIN); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PIN changed for @%s.\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pinCmd)
}
