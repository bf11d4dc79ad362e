package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bearsqa/bears-go/internal/history"
	"github.com/bearsqa/bears-go/internal/rest"
)

// newCallCmd invokes a registered API operation by name, expanding path
// parameters from --param flags and sending an optional JSON body.
func newCallCmd() *cobra.Command {
	var (
		flagParams []string
		flagData   string
	)

	cmd := &cobra.Command{
		Use:   "call <operation>",
		Short: "Invoke a registered API operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			resolver, err := loadResolver(logger)
			if err != nil {
				return err
			}

			registry, err := buildRegistry(resolver)
			if err != nil {
				return err
			}

			op, ok := registry.Lookup(args[0])
			if !ok {
				names := registry.Names()
				if len(names) == 0 {
					return fmt.Errorf("unknown operation %q (no operations registered; set %s or add %s under the config root)",
						args[0], keyOperations, operationsFileName)
				}

				return fmt.Errorf("unknown operation %q (known: %s)", args[0], strings.Join(names, ", "))
			}

			params, err := parseParams(flagParams)
			if err != nil {
				return err
			}

			path, err := op.Expand(params)
			if err != nil {
				return err
			}

			cache, err := buildTokenCache(resolver, logger)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(stateDir(), 0o700); err != nil {
				return fmt.Errorf("creating state directory: %w", err)
			}

			store, err := history.NewStore(historyPath(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			client := rest.NewClient(
				resolver.Value(keyHost),
				defaultHTTPClient(),
				cache,
				logger,
				rest.WithEnvHeaders(resolver.Zone(), resolver.Env()),
				rest.WithRecorder(store),
			)

			var body []byte
			if flagData != "" {
				body = []byte(flagData)
			}

			resp, err := client.Do(cmd.Context(), op.Method, path, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(out), "\n"))

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&flagParams, "param", nil, "path parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&flagData, "data", "", "JSON request body")

	return cmd
}

// parseParams turns repeated key=value flags into a map. The first '='
// separates key from value so values may themselves contain '='.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed --param %q (want key=value)", pair)
		}

		params[key] = value
	}

	return params, nil
}
