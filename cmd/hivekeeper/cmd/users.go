package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users with a stored key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			names := a.manager.StoredUsers()
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No stored users.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tMETHOD\tCREATED")
			for _, name := range names {
				rec, err := a.store.Get(ctx, name)
				if err != nil {
					fmt.Fprintf(tw, "%s\t?\tunreadable\n", name)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, rec.Method, rec.Created().Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
}
