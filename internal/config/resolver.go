package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// DefaultSection is the flat namespace most lookups read from. It always
// exists after a successful load, even when empty.
const DefaultSection = "default"

// baseSection holds the zone/product/env triple that drives layer selection.
const baseSection = "base"

// Resolver merges layered INI sources into a single queryable namespace.
// It is constructed explicitly (no package-level state) and safe for
// concurrent readers; SetValue and Reload take the write lock.
type Resolver struct {
	mu     sync.RWMutex
	root   string
	file   *ini.File
	logger *slog.Logger
}

// New creates a Resolver rooted at the given directory and performs the
// initial load. An empty root selects DefaultRoot().
func New(root string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if root == "" {
		root = DefaultRoot()
	}

	r := &Resolver{root: root, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Root returns the config root directory. Immutable after construction.
func (r *Resolver) Root() string {
	return r.root
}

// Reload rebuilds the namespace from disk. The base file and the defaults
// file load first, then either the hierarchical product layers (when a
// product directory exists) or the legacy single-file layout. Later sources
// win key-for-key within the same section. Missing files are skipped.
func (r *Resolver) Reload() error {
	f, err := loadLoose(r.basePath(), filepath.Join(r.root, defaultFileName))
	if err != nil {
		return fmt.Errorf("config: reading base layers: %w", err)
	}

	zone, product, env, cerr := baseTriple(f)
	if cerr != nil {
		return cerr
	}

	productPath := filepath.Join(r.root, product)
	if info, statErr := os.Stat(productPath); statErr == nil && info.IsDir() {
		f, err = r.hierarchicalLoad(productPath, zone, env)
		if err != nil {
			return err
		}

		r.logger.Debug("loaded hierarchical config",
			slog.String("product", product),
			slog.String("zone", zone),
			slog.String("env", env),
		)
	} else {
		if err := r.legacyLoad(f, product, zone, env); err != nil {
			return err
		}

		r.logger.Debug("loaded legacy config", slog.String("product", product))
	}

	// The default section must exist even when no layer populated it.
	f.Section(DefaultSection)

	r.mu.Lock()
	r.file = f
	r.mu.Unlock()

	return nil
}

// hierarchicalLoad re-reads every layer in one ordered pass:
// base -> defaults -> product/common -> product/zone/common ->
// product/zone/env. Reusing a single loose load keeps last-wins ordering
// trivially correct.
func (r *Resolver) hierarchicalLoad(productPath, zone, env string) (*ini.File, error) {
	zonePath := filepath.Join(productPath, zone)

	f, err := loadLoose(
		r.basePath(),
		filepath.Join(r.root, defaultFileName),
		filepath.Join(productPath, commonFileName),
		filepath.Join(zonePath, commonFileName),
		filepath.Join(zonePath, env+".ini"),
	)
	if err != nil {
		return nil, fmt.Errorf("config: reading product layers: %w", err)
	}

	return f, nil
}

// legacyLoad supports the flat single-file-per-product layout: values for the
// active deployment live in a "<zone>_<env>" section of config_<product>.ini
// and are copied into [default]. When the customized_config environment
// variable is set, it replaces the section copy entirely.
func (r *Resolver) legacyLoad(f *ini.File, product, zone, env string) error {
	envFile, err := loadLoose(filepath.Join(r.root, "config_"+product+".ini"))
	if err != nil {
		return fmt.Errorf("config: reading legacy product file: %w", err)
	}

	if raw := os.Getenv(EnvCustomized); raw != "" {
		applyOverrides(f, raw, envFile)
		return nil
	}

	zoneEnv := zone + "_" + env

	sec, err := envFile.GetSection(zoneEnv)
	if err != nil {
		return &ConfigError{
			Message: "legacy product file has no section for the active zone/env",
			Details: map[string]string{"product": product, "section": zoneEnv},
		}
	}

	target := f.Section(DefaultSection)
	for name, value := range sec.KeysHash() {
		target.Key(name).SetValue(value)
	}

	return nil
}

// Get returns the value for (section, key), or fallback when the section or
// key is absent. It never fails on missing keys.
func (r *Resolver) Get(section, key, fallback string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sec, err := r.file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return fallback
	}

	return sec.Key(key).String()
}

// Value returns the key from the default section, empty when absent.
func (r *Resolver) Value(key string) string {
	return r.Get(DefaultSection, key, "")
}

// HasValue reports whether (section, key) is present.
func (r *Resolver) HasValue(section, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sec, err := r.file.GetSection(section)

	return err == nil && sec.HasKey(key)
}

// SetValue writes an in-memory override. It does not persist to disk and is
// lost on the next Reload.
func (r *Resolver) SetValue(section, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.file.Section(section).Key(key).SetValue(value)
}

// Zone returns base.zone. Guaranteed non-empty after a successful load.
func (r *Resolver) Zone() string {
	return r.Get(baseSection, "zone", "")
}

// Product returns base.product. Guaranteed non-empty after a successful load.
func (r *Resolver) Product() string {
	return r.Get(baseSection, "product", "")
}

// Env returns base.env. Guaranteed non-empty after a successful load.
func (r *Resolver) Env() string {
	return r.Get(baseSection, "env", "")
}

// ZoneEnv returns the composite "<zone>_<env>" section name used by the
// legacy layout.
func (r *Resolver) ZoneEnv() string {
	return r.Zone() + "_" + r.Env()
}

// Store returns base.store, empty when unset.
func (r *Resolver) Store() string {
	return r.Get(baseSection, "store", "")
}

// Priority returns base.priority, empty when unset.
func (r *Resolver) Priority() string {
	return r.Get(baseSection, "priority", "")
}

// Version returns base.version, empty when unset.
func (r *Resolver) Version() string {
	return r.Get(baseSection, "version", "")
}

// WriteBase persists a single key into the [base] section of env.ini.
// Unlike SetValue this touches disk; the in-memory namespace picks the change
// up on the next Reload.
func (r *Resolver) WriteBase(key, value string) error {
	base, err := loadLoose(r.basePath())
	if err != nil {
		return fmt.Errorf("config: reading base file: %w", err)
	}

	base.Section(baseSection).Key(key).SetValue(value)

	if err := base.SaveTo(r.basePath()); err != nil {
		return fmt.Errorf("config: writing base file: %w", err)
	}

	return nil
}

func (r *Resolver) basePath() string {
	return filepath.Join(r.root, baseFileName)
}

// baseTriple extracts the mandatory zone/product/env keys, failing with a
// ConfigError naming whichever are missing.
func baseTriple(f *ini.File) (zone, product, env string, err error) {
	sec := f.Section(baseSection)
	zone = sec.Key("zone").String()
	product = sec.Key("product").String()
	env = sec.Key("env").String()

	if zone == "" || product == "" || env == "" {
		return "", "", "", &ConfigError{
			Message: "base configuration is missing mandatory keys",
			Details: map[string]string{"zone": zone, "product": product, "env": env},
		}
	}

	return zone, product, env, nil
}

// applyOverrides parses a comma-separated "k=v" list and writes the pairs
// into [default]. A reserved zone_env=<section> entry copies that whole
// section from the legacy product file first, so literal overrides win.
// Fragments without '=' (or with an empty key) are skipped, not fatal:
// config loading must stay a non-blocking startup step.
func applyOverrides(f *ini.File, raw string, envFile *ini.File) {
	kv := make(map[string]string)

	order := make([]string, 0)

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}

		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}

		if _, seen := kv[k]; !seen {
			order = append(order, k)
		}

		kv[k] = strings.TrimSpace(v)
	}

	target := f.Section(DefaultSection)

	if zoneEnv, ok := kv["zone_env"]; ok {
		delete(kv, "zone_env")

		if sec, err := envFile.GetSection(zoneEnv); err == nil {
			for name, value := range sec.KeysHash() {
				target.Key(name).SetValue(value)
			}
		}
	}

	for _, k := range order {
		v, ok := kv[k]
		if !ok {
			continue
		}

		target.Key(k).SetValue(v)
	}
}

// loadLoose reads the given sources in order, later files overriding earlier
// ones key-for-key. Missing files are silently skipped.
func loadLoose(paths ...string) (*ini.File, error) {
	opts := ini.LoadOptions{Loose: true}

	if len(paths) == 0 {
		return ini.Empty(opts), nil
	}

	others := make([]interface{}, 0, len(paths)-1)
	for _, p := range paths[1:] {
		others = append(others, p)
	}

	return ini.LoadSources(opts, paths[0], others...)
}
