package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hivekeeper/internal/util"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage the device passcode used for biometric-style unlock",
}

var deviceEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Set the device passcode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			first, err := a.prompter.ReadSecret("New device passcode: ")
			if err != nil {
				return err
			}
			defer util.WipeBytes(first)
			second, err := a.prompter.ReadSecret("Confirm device passcode: ")
			if err != nil {
				return err
			}
			defer util.WipeBytes(second)
			if string(first) != string(second) {
				return errors.New("entries do not match")
			}
			if err := a.gate.Enroll(ctx, first); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Device passcode enrolled.")
			return nil
		})
	},
}

var deviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which unlock methods this device supports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			enrolled, err := a.gate.Enrolled(ctx)
			if err != nil {
				return err
			}
			capability, err := a.gate.Capability(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Passcode enrolled: %t\n", enrolled)
			fmt.Fprintf(out, "Interactive prompt: %t\n", a.prompter.Available())
			fmt.Fprintf(out, "Security level:     %s\n", capability.SecurityLevel)
			if capability.Available() {
				fmt.Fprintln(out, "Biometric-protected keys can be unlocked on this device.")
			} else {
				fmt.Fprintln(out, "Biometric-protected keys cannot be unlocked; use a PIN.")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceEnrollCmd)
	deviceCmd.AddCommand(deviceStatusCmd)
}
