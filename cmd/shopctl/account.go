package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-storefront/internal/auth"
)

func newLoginCommand(a *app) *cobra.Command {
	var creds auth.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in; the guest cart and wishlist are merged into the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.client.Auth.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			if err := a.client.Bus.Wait(); err != nil {
				a.logg.Warn(a.logg.WithField(cmd.Context(), "error", err.Error()), "login.refresh_failed")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%d items in cart)\n", user.Email, a.client.Cart.Snapshot().Count())
			return err
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	return cmd
}

func newRegisterCommand(a *app) *cobra.Command {
	var reg auth.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account from the current guest session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.client.Auth.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", user.Email)
			return err
		},
	}
	cmd.Flags().StringVar(&reg.Name, "name", "", "display name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and start a fresh guest session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the identity requests are sent as",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "profile: %s\n", a.cfg.Identity.Profile)
			fmt.Fprintf(out, "session: %s\n", a.client.Identity.SessionID(ctx))
			_, err := fmt.Fprintf(out, "authenticated: %t\n", a.client.Identity.Authenticated(ctx))
			return err
		},
	}
}
