package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bearsqa/bears-go/internal/auth"
	"github.com/bearsqa/bears-go/internal/config"
	"github.com/bearsqa/bears-go/internal/rest"
)

// Config keys read from the resolved default section.
const (
	keyHost        = "host"
	keyLoginURL    = "login_url"
	keyRefreshURL  = "refresh_login_url"
	keyRefreshTime = "refresh_time"
	keyNumber      = "number"
	keyUser        = "user"
	keyPassword    = "password"
	keyAccountName = "accountname"
	keyOperations  = "operations_file"
)

// operationsFileName is the registry file looked up under the config root
// when the operations_file key is absent.
const operationsFileName = "operations.toml"

// loadResolver builds the config resolver from the --config-root flag.
func loadResolver(logger *slog.Logger) (*config.Resolver, error) {
	resolver, err := config.New(flagConfigRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolver, nil
}

// buildTokenCache assembles the identity provider and token cache from the
// resolved configuration. The refresh threshold comes from the refresh_time
// key (seconds) and falls back to the platform default.
func buildTokenCache(resolver *config.Resolver, logger *slog.Logger) (*auth.Cache, error) {
	host := resolver.Value(keyHost)
	loginURL := resolver.Value(keyLoginURL)

	if host == "" || loginURL == "" {
		return nil, fmt.Errorf("config is missing %s or %s in the default section", keyHost, keyLoginURL)
	}

	provider := auth.NewHTTPProvider(
		host,
		loginURL,
		resolver.Value(keyRefreshURL),
		defaultHTTPClient(),
		logger,
	)

	creds := auth.Credentials{
		User:        resolver.Value(keyUser),
		Password:    resolver.Value(keyPassword),
		Number:      resolver.Value(keyNumber),
		AccountName: resolver.Value(keyAccountName),
	}

	opts := []auth.Option{auth.WithTokenPath(tokenPath(resolver))}

	if raw := resolver.Value(keyRefreshTime); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("ignoring non-numeric refresh_time", slog.String("value", raw))
		} else {
			opts = append(opts, auth.WithRefreshThreshold(time.Duration(seconds)*time.Second))
		}
	}

	return auth.NewCache(provider, creds, logger, opts...), nil
}

// buildRegistry loads the operation registry: the operations_file config key
// when set, otherwise operations.toml under the config root when present.
func buildRegistry(resolver *config.Resolver) (*rest.Registry, error) {
	registry := rest.NewRegistry()

	path := resolver.Value(keyOperations)
	if path == "" {
		candidate := filepath.Join(resolver.Root(), operationsFileName)
		if _, err := os.Stat(candidate); err != nil {
			return registry, nil
		}

		path = candidate
	}

	if err := registry.LoadFile(path); err != nil {
		return nil, err
	}

	return registry, nil
}

// stateDir is where the CLI keeps per-identity state (tokens, history).
func stateDir() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = "."
	}

	return filepath.Join(base, ".bears")
}

// tokenPath derives a per-product/env token file path so different targets
// never share tokens.
func tokenPath(resolver *config.Resolver) string {
	name := resolver.Product() + "-" + resolver.ZoneEnv() + ".json"

	return filepath.Join(stateDir(), "tokens", name)
}

// historyPath is the call-history database location.
func historyPath() string {
	return filepath.Join(stateDir(), "history.db")
}
