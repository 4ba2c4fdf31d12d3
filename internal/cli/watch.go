package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okineo/ripple/internal/tui"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the engine with a live terminal view",
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

			if err := eng.controller.Start(cmd.Context()); err != nil {
				return err
			}
			if !eng.store.Snapshot().Authenticated() {
				return fmt.Errorf("no active session; run `ripple login` first")
			}

			return tui.Run(eng.store, eng.tracker, eng.aggregator)
		},
	}
}
