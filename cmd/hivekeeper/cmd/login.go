package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hivekeeper/keystore"
)

var loginBiometric bool

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Verify a posting key against the chain and store it encrypted",
	Long: `Prompts for the private posting key of <username>, checks it against the
account's on-chain posting authority and stores it encrypted under a new PIN,
or under the device passcode with --biometric.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			method := keystore.MethodPIN
			if loginBiometric {
				method = keystore.MethodBiometric
			}
			key, err := readSecret(a.prompter, "Private posting key: ")
			if err != nil {
				return err
			}
			var pin string
			if method == keystore.MethodPIN {
				pin, err = readNewPIN(a.prompter, fmt.Sprintf("New %d-digit PIN", a.cfg.Session.PINLength))
				if err != nil {
					return err
				}
			}
			if err := a.manager.Login(ctx, args[0], key, method, pin); err != nil {
				return userError(err)
			}
			snap := a.manager.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Stored key for @%s (%s).\n", snap.Username, method)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVar(&loginBiometric, "biometric", false, "Protect the key with the device passcode instead of a PIN")
}
