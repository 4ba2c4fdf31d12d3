package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist a session",
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

			if username == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Username: ")
				reader := bufio.NewReader(cmd.InOrStdin())
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read username: %w", err)
				}
				username = strings.TrimSpace(line)
			}

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			if err := eng.controller.Login(ctx, username, password); err != nil {
				return err
			}

			snap := eng.store.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", snap.Profile.Username, snap.Profile.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username to sign in with")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear the stored token",
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
			if err := eng.controller.Start(ctx); err != nil {
				return err
			}
			if err := eng.controller.Logout(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var fullname, username string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if fullname == "" || username == "" {
				return fmt.Errorf("--fullname and --username are required")
			}

			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			if err := eng.data.Register(cmd.Context(), fullname, username, password); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Account created. Run `ripple login` to sign in.")
			return nil
		},
	}

	cmd.Flags().StringVar(&fullname, "fullname", "", "full display name")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username to register")
	return cmd
}

// readPassword reads a password without echo when stdin is a terminal,
// falling back to a plain line read otherwise (tests, pipes).
func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(data), nil
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
