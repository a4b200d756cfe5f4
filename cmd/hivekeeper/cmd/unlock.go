package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/keystore"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <username>",
	Short: "Check that a stored key can be unlocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := unlockStored(ctx, a, args[0]); err != nil {
				return err
			}
			return a.manager.WithSigningKey(func(username, wif string) error {
				key, err := hive.ParseWIF(wif)
				if err != nil {
					return err
				}
				defer key.Zero()
				fmt.Fprintf(cmd.OutOrStdout(), "Unlocked @%s\nPublic posting key: %s\n", username, key.PublicKey())
				return nil
			})
		})
	},
}

// unlockStored prompts for whatever the stored record needs and logs in.
func unlockStored(ctx context.Context, a *app, username string) error {
	user, err := keystore.Sanitize(username)
	if err != nil {
		return err
	}
	rec, err := a.store.Get(ctx, user)
	if errors.Is(err, keystore.ErrNotFound) {
		return fmt.Errorf("no stored key for @%s; run 'hivekeeper login %s' first", user, user)
	}
	var pin string
	if err == nil && rec.Method == keystore.MethodPIN {
		pin, err = readSecret(a.prompter, "PIN: ")
		if err != nil {
			return err
		}
	}
	return userError(a.manager.LoginStoredUser(ctx, user, pin))
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
