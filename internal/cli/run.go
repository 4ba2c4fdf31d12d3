package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/session"
	"github.com/okineo/ripple/internal/unread"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long:  "run starts the engine with the stored session, keeps state in sync over the push channel, and logs state changes until interrupted.",
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
			logger := logging.Component("run")

			defer eng.store.Subscribe(func(snap session.Snapshot) {
				if !snap.Authenticated() {
					logger.Info().Msg("session ended")
					return
				}
				logger.Info().
					Uint64("version", snap.Version).
					Int("followers", len(snap.Profile.Followers)).
					Int("following", len(snap.Profile.Following)).
					Int("pending_incoming", len(snap.Profile.PendingIncoming)).
					Int("pending_outgoing", len(snap.Profile.PendingOutgoing)).
					Msg("profile updated")
			})()

			defer eng.tracker.Subscribe(func(online []string) {
				logger.Info().Int("online", len(online)).Msg("presence changed")
			})()

			defer eng.aggregator.Subscribe(func(snap unread.Snapshot) {
				logger.Info().
					Bool("unread_chats", snap.HasUnreadChats).
					Bool("unread_notifications", snap.HasUnreadNotifications).
					Int("chats", len(snap.Chats)).
					Msg("unread state changed")
			})()

			if err := eng.controller.Start(ctx); err != nil {
				return err
			}
			if !eng.store.Snapshot().Authenticated() {
				return fmt.Errorf("no active session; run `ripple login` first")
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("shutting down")
			}
			return nil
		},
	}
}
