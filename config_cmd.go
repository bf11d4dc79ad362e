package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bearsqa/bears-go/internal/config"
)

// newConfigCmd returns the config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect resolved configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

// newConfigShowCmd prints the base triple and the resolved default section.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolver, err := loadResolver(buildLogger())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "zone:    %s\n", resolver.Zone())
			fmt.Fprintf(out, "product: %s\n", resolver.Product())
			fmt.Fprintf(out, "env:     %s\n", resolver.Env())
			fmt.Fprintln(out)

			for _, key := range []string{keyHost, keyLoginURL, keyRefreshURL, keyUser} {
				if resolver.HasValue(config.DefaultSection, key) {
					fmt.Fprintf(out, "%s = %s\n", key, resolver.Value(key))
				}
			}

			return nil
		},
	}
}

// newConfigGetCmd prints one resolved value.
func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <section> <key>",
		Short: "Print one resolved configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := loadResolver(buildLogger())
			if err != nil {
				return err
			}

			section, key := args[0], args[1]
			if !resolver.HasValue(section, key) {
				return fmt.Errorf("no value for %s.%s", section, key)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resolver.Get(section, key, ""))

			return nil
		},
	}
}
