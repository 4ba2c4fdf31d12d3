package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okineo/ripple/internal/db"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search users by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmd.Context()

			// Search works with or without a session; attach the
			// stored token when one exists.
			if stored, err := eng.sessions.Load(ctx); err == nil {
				eng.data.SetToken(stored.Token)
			} else if !errors.Is(err, db.ErrNoSession) {
				return err
			}

			results, err := eng.data.SearchUsers(ctx, args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
				return nil
			}
			for _, user := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", user.ID, user.Username, user.Fullname)
			}
			return nil
		},
	}
}
