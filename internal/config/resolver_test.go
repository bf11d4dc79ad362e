package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// writeINI creates path (and parent directories) with the given content.
func writeINI(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// newRoot lays out a config root with a base file declaring the given triple.
func newRoot(t *testing.T, zone, product, env string) string {
	t.Helper()

	root := t.TempDir()
	writeINI(t, filepath.Join(root, "env.ini"),
		"[base]\nzone = "+zone+"\nproduct = "+product+"\nenv = "+env+"\n")

	return root
}

func TestNew_MissingBaseTriple(t *testing.T) {
	root := t.TempDir()
	writeINI(t, filepath.Join(root, "env.ini"), "[base]\nzone = boe\n")
	writeINI(t, filepath.Join(root, "config_default.ini"), "[default]\n")

	_, err := New(root, testLogger(t))
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "boe", cerr.Details["zone"])
	assert.Empty(t, cerr.Details["product"])
}

func TestNew_HierarchicalScenario(t *testing.T) {
	// base config zone=boe product=demo env=test, product directory demo
	// exists with boe/test.ini containing host=foo.example.com.
	root := newRoot(t, "boe", "demo", "test")
	writeINI(t, filepath.Join(root, "demo", "boe", "test.ini"),
		"[default]\nhost = foo.example.com\n")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "foo.example.com", r.Value("host"))
}

func TestReload_HierarchicalLastWins(t *testing.T) {
	root := newRoot(t, "boe", "demo", "test")
	writeINI(t, filepath.Join(root, "config_default.ini"),
		"[default]\nhost = default.example.com\ntimeout = 30\nretries = 3\n")
	writeINI(t, filepath.Join(root, "demo", "common.ini"),
		"[default]\nhost = common.example.com\ntimeout = 60\n")
	writeINI(t, filepath.Join(root, "demo", "boe", "common.ini"),
		"[default]\nhost = zone.example.com\n")
	writeINI(t, filepath.Join(root, "demo", "boe", "test.ini"),
		"[default]\nhost = env.example.com\n")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	// host appears in all four layers; the deepest layer wins.
	assert.Equal(t, "env.example.com", r.Value("host"))
	// timeout appears in two layers; the later one wins.
	assert.Equal(t, "60", r.Value("timeout"))
	// retries appears only in the defaults file.
	assert.Equal(t, "3", r.Value("retries"))
}

func TestReload_HierarchicalMissingLayersSkipped(t *testing.T) {
	root := newRoot(t, "boe", "demo", "test")
	// Product directory exists but only the env layer is present.
	writeINI(t, filepath.Join(root, "demo", "boe", "test.ini"),
		"[default]\nhost = only.example.com\n")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "only.example.com", r.Value("host"))
}

func TestReload_LegacyZoneEnvSection(t *testing.T) {
	root := newRoot(t, "boe", "legacyprod", "test")
	writeINI(t, filepath.Join(root, "config_legacyprod.ini"),
		"[boe_test]\nhost = legacy.example.com\nuser = tester\n"+
			"[i18n_prod]\nhost = wrong.example.com\n")

	t.Setenv(EnvCustomized, "")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "legacy.example.com", r.Value("host"))
	assert.Equal(t, "tester", r.Value("user"))
	assert.Equal(t, "boe_test", r.ZoneEnv())
}

func TestReload_LegacyMissingSection(t *testing.T) {
	root := newRoot(t, "boe", "legacyprod", "test")
	writeINI(t, filepath.Join(root, "config_legacyprod.ini"),
		"[i18n_prod]\nhost = wrong.example.com\n")

	t.Setenv(EnvCustomized, "")

	_, err := New(root, testLogger(t))
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "boe_test", cerr.Details["section"])
}

func TestReload_CustomizedConfigOverrides(t *testing.T) {
	root := newRoot(t, "boe", "legacyprod", "test")
	writeINI(t, filepath.Join(root, "config_legacyprod.ini"),
		"[i18n_prod]\nhost = section.example.com\nregion = eu\n")

	// zone_env pulls the whole i18n_prod section in; literal overrides win.
	t.Setenv(EnvCustomized, "zone_env=i18n_prod, host=override.example.com, user=alice")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "override.example.com", r.Value("host"))
	assert.Equal(t, "eu", r.Value("region"))
	assert.Equal(t, "alice", r.Value("user"))
}

func TestReload_CustomizedConfigMalformedFragments(t *testing.T) {
	root := newRoot(t, "boe", "legacyprod", "test")

	// Fragments without '=' or with empty keys are skipped silently; values
	// containing '=' split on the first one only.
	t.Setenv(EnvCustomized, "garbage, =novalue, token=a=b=c, host=ok.example.com, ,")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "a=b=c", r.Value("token"))
	assert.Equal(t, "ok.example.com", r.Value("host"))
	assert.False(t, r.HasValue(DefaultSection, "garbage"))
}

func TestGet_FallbackNeverErrors(t *testing.T) {
	root := newRoot(t, "boe", "demo", "test")
	writeINI(t, filepath.Join(root, "demo", "boe", "test.ini"), "[default]\n")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "fallback", r.Get("default", "nope", "fallback"))
	assert.Equal(t, "fallback", r.Get("nosection", "nope", "fallback"))
	assert.Empty(t, r.Value("nope"))
}

func TestSetValue_InMemoryOnly(t *testing.T) {
	root := newRoot(t, "boe", "demo", "test")
	writeINI(t, filepath.Join(root, "demo", "boe", "test.ini"),
		"[default]\nhost = disk.example.com\n")

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	r.SetValue(DefaultSection, "host", "memory.example.com")
	assert.Equal(t, "memory.example.com", r.Value("host"))

	// Reload discards the in-memory override.
	require.NoError(t, r.Reload())
	assert.Equal(t, "disk.example.com", r.Value("host"))
}

func TestDefaultSectionAlwaysExists(t *testing.T) {
	root := newRoot(t, "boe", "demo", "test")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo"), 0o755))

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	// No layer created [default]; the resolver guarantees it regardless.
	assert.False(t, r.HasValue(DefaultSection, "anything"))
	r.SetValue(DefaultSection, "anything", "x")
	assert.True(t, r.HasValue(DefaultSection, "anything"))
}

func TestBaseGetters(t *testing.T) {
	root := t.TempDir()
	writeINI(t, filepath.Join(root, "env.ini"),
		"[base]\nzone = i18n\nproduct = demo\nenv = prod\nstore = s3\npriority = p1\nversion = 1.2.3\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo"), 0o755))

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "i18n", r.Zone())
	assert.Equal(t, "demo", r.Product())
	assert.Equal(t, "prod", r.Env())
	assert.Equal(t, "i18n_prod", r.ZoneEnv())
	assert.Equal(t, "s3", r.Store())
	assert.Equal(t, "p1", r.Priority())
	assert.Equal(t, "1.2.3", r.Version())
}

func TestWriteBase_PersistsToDisk(t *testing.T) {
	root := newRoot(t, "boe", "demo", "test")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo"), 0o755))

	r, err := New(root, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, r.WriteBase("env", "staging"))

	// Visible after reload, and the rest of the triple is intact.
	require.NoError(t, r.Reload())
	assert.Equal(t, "staging", r.Env())
	assert.Equal(t, "boe", r.Zone())
}
