package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newLoginCmd forces a fresh login against the identity provider, replacing
// any cached token.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and cache a fresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			resolver, err := loadResolver(logger)
			if err != nil {
				return err
			}

			cache, err := buildTokenCache(resolver, logger)
			if err != nil {
				return err
			}

			// Drop any cached token so a real login happens.
			if err := cache.Invalidate(); err != nil {
				return err
			}

			if _, err := cache.AccessToken(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s/%s)\n",
				resolver.Value(keyUser), resolver.Product(), resolver.ZoneEnv())

			return nil
		},
	}
}

// newLogoutCmd drops the cached token and its on-disk copy.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the cached token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			resolver, err := loadResolver(logger)
			if err != nil {
				return err
			}

			cache, err := buildTokenCache(resolver, logger)
			if err != nil {
				return err
			}

			if err := cache.Invalidate(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}

// newTokenCmd prints a valid access token, logging in or refreshing first
// when needed. Useful for piping into curl or other tooling.
func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			resolver, err := loadResolver(logger)
			if err != nil {
				return err
			}

			cache, err := buildTokenCache(resolver, logger)
			if err != nil {
				return err
			}

			token, err := cache.AccessToken(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}
}
