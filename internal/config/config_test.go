package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
)

// chdir changes the working directory for the rest of the test and restores
// it on cleanup (stand-in for testing.T.Chdir, which needs Go 1.24)
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

// isolate keeps Load away from the developer's own .env and ~/.graphmaint
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	chdir(t, dir)
	for _, key := range []string{
		"PDBserver", "PDBpass", "PDBuser",
		"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "NEO4J_DATABASE",
		"NEO4J_CONNECT_TIMEOUT", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"POSTGRES_DSN", "GRAPHMAINT_DEBUG",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "bolt://localhost:7687", cfg.Store.URI)
	assert.Equal(t, "neo4j", cfg.Store.User)
	assert.Equal(t, 2000, cfg.Runner.ChunkLength)
	assert.Equal(t, 30*time.Minute, cfg.Poller.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Poller.MaxWait)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.False(t, cfg.Lock.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
store:
  uri: bolt://pdb.example.org:7687
  user: loader
runner:
  chunk_length: 500
  retry_delay: 5s
poller:
  interval: 1m
  max_wait: 2h
  abort_on_rejected: true
ledger:
  driver: none
lock:
  enabled: true
  ttl: 90s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bolt://pdb.example.org:7687", cfg.Store.URI)
	assert.Equal(t, "loader", cfg.Store.User)
	assert.Equal(t, "neo4j", cfg.Store.Database, "unset keys keep defaults")
	assert.Equal(t, 500, cfg.Runner.ChunkLength)
	assert.Equal(t, 5*time.Second, cfg.Runner.RetryDelay)
	assert.Equal(t, time.Minute, cfg.Poller.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Poller.MaxWait)
	assert.True(t, cfg.Poller.AbortOnRejected)
	assert.Equal(t, "none", cfg.Ledger.Driver)
	assert.True(t, cfg.Lock.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Lock.TTL)
}

func TestLoadSearchesProjectDirectory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".graphmaint", "config.yaml"), "runner:\n  chunk_length: 42\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Runner.ChunkLength)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Runner, cfg.Runner)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	writeFile(t, path, "store: [unterminated\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentPrefix(t *testing.T) {
	isolate(t)
	t.Setenv("GRAPHMAINT_RUNNER_CHUNK_LENGTH", "750")
	t.Setenv("GRAPHMAINT_POLLER_INTERVAL", "45s")
	t.Setenv("GRAPHMAINT_LEDGER_DRIVER", "none")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 750, cfg.Runner.ChunkLength)
	assert.Equal(t, 45*time.Second, cfg.Poller.Interval)
	assert.Equal(t, "none", cfg.Ledger.Driver)
}

func TestPipelineVariablesOverrideEverything(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "store:\n  uri: bolt://from-file:7687\n  password: from-file\n")
	t.Setenv("PDBserver", "pdb.virtualflybrain.org:7687")
	t.Setenv("PDBpass", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt://pdb.virtualflybrain.org:7687", cfg.Store.URI)
	assert.Equal(t, "from-env", cfg.Store.Password)
}

func TestSharedServiceVariables(t *testing.T) {
	isolate(t)
	t.Setenv("NEO4J_CONNECT_TIMEOUT", "45")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, "redis.internal:6379", cfg.Lock.Addr)
	assert.Equal(t, 3, cfg.Lock.DB)
}

func TestFindEnvFileClimbsParents(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "X=1\n")
	sub := filepath.Join(dir, "plans", "nightly")
	require.NoError(t, os.MkdirAll(sub, 0755))
	chdir(t, sub)

	path, ok := findEnvFile()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, ".env"), path)
}

func TestDotEnvFileIsLoaded(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "PDBpass=dotenv-secret\n")
	// godotenv never overrides a variable that is set, even to ""
	require.NoError(t, os.Unsetenv("PDBpass"))
	t.Cleanup(func() { os.Unsetenv("PDBpass") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Store.Password)
}

func TestNormalizeStoreURI(t *testing.T) {
	assert.Equal(t, "bolt://host:7687", normalizeStoreURI("host:7687"))
	assert.Equal(t, "neo4j+s://host", normalizeStoreURI(" neo4j+s://host "))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "out", "config.yaml")

	cfg := Default()
	cfg.Store.Password = "never-written"
	cfg.Poller.Interval = 90 * time.Second
	cfg.Lock.Enabled = true
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")
	assert.Contains(t, string(data), "1m30s")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, loaded.Poller.Interval)
	assert.True(t, loaded.Lock.Enabled)
	assert.Empty(t, loaded.Store.Password)
}

func TestOptionsConversion(t *testing.T) {
	cfg := Default()
	cfg.Store.Password = "pw"
	cfg.Runner.ChunkRate = 2

	client := cfg.ClientOptions()
	assert.Equal(t, cfg.Store.URI, client.URI)
	assert.Equal(t, "pw", client.Password)
	assert.Equal(t, cfg.Store.MaxPoolSize, client.MaxPoolSize)

	runner := cfg.RunnerOptions()
	assert.Equal(t, 2000, runner.ChunkLength)
	assert.Equal(t, 2.0, runner.ChunkRate)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Store.URI = "http://pdb:7474"
	cfg.Store.Password = ""
	cfg.Runner.ChunkLength = -1
	cfg.Poller.Interval = 0
	cfg.Ledger.Driver = "mongo"
	cfg.Lock.Enabled = true
	cfg.Lock.Addr = ""
	cfg.Log.Format = "xml"

	result := cfg.Validate(ValidationContextRun)
	require.True(t, result.HasErrors())
	assert.Len(t, result.Errors, 7)

	err := result.Err()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
	for _, want := range []string{"scheme", "password", "chunk_length", "poller.interval", "mongo", "lock.addr", "xml"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateContexts(t *testing.T) {
	cfg := Default()

	// No password: fine offline, fatal when connecting
	assert.False(t, cfg.Validate(ValidationContextOffline).HasErrors())
	assert.True(t, cfg.Validate(ValidationContextDrain).HasErrors())

	cfg.Store.Password = "pw"
	result := cfg.Validate(ValidationContextRun)
	assert.False(t, result.HasErrors(), result.Error())
	assert.NoError(t, result.Err())

	cfg.Ledger.Driver = "postgres"
	cfg.Ledger.DSN = "host=localhost"
	assert.True(t, cfg.Validate(ValidationContextRun).HasErrors())
}

func TestValidateWarnsWhenIntervalExceedsMaxWait(t *testing.T) {
	cfg := Default()
	cfg.Poller.Interval = time.Hour
	cfg.Poller.MaxWait = time.Minute

	result := cfg.Validate(ValidationContextOffline)
	assert.False(t, result.HasErrors())
	require.NotEmpty(t, result.Warnings)
	assert.True(t, strings.Contains(strings.Join(result.Warnings, "\n"), "poll once"))
}

func TestResolveStorePassword(t *testing.T) {
	keyring.MockInit()

	cm := &CredentialManager{
		mode:    ModePipeline,
		keyring: NewKeyringManager(),
		in:      strings.NewReader(""),
		out:     io.Discard,
	}

	cfg := Default()
	err := cm.ResolveStorePassword(cfg)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
	assert.Contains(t, err.Error(), "PDBpass")

	require.NoError(t, cm.keyring.SaveStorePassword(cfg.Store.URI, "kept"))
	require.NoError(t, cm.ResolveStorePassword(cfg))
	assert.Equal(t, "kept", cfg.Store.Password)

	// A password already set is never replaced
	cfg.Store.Password = "explicit"
	require.NoError(t, cm.ResolveStorePassword(cfg))
	assert.Equal(t, "explicit", cfg.Store.Password)
}

func TestPromptStorePasswordFromPipe(t *testing.T) {
	keyring.MockInit()

	cm := &CredentialManager{
		mode:    ModeInteractive,
		keyring: NewKeyringManager(),
		in:      strings.NewReader("  piped-secret \n"),
		out:     io.Discard,
	}

	password, err := cm.PromptStorePassword("bolt://pdb:7687")
	require.NoError(t, err)
	assert.Equal(t, "piped-secret", password)

	stored, err := cm.keyring.GetStorePassword("bolt://pdb:7687")
	require.NoError(t, err)
	assert.Equal(t, "piped-secret", stored)

	cm.in = strings.NewReader("\n")
	_, err = cm.PromptStorePassword("bolt://pdb:7687")
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestDetectMode(t *testing.T) {
	t.Setenv("GRAPHMAINT_MODE", "pipeline")
	assert.Equal(t, ModePipeline, DetectMode())
	assert.False(t, DetectMode().AllowsInteractivePrompts())

	t.Setenv("GRAPHMAINT_MODE", "interactive")
	assert.Equal(t, ModeInteractive, DetectMode())
	assert.True(t, DetectMode().AllowsInteractivePrompts())
}

func TestGetDuration(t *testing.T) {
	t.Setenv("GM_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetDuration("GM_TEST_DURATION", time.Second))

	t.Setenv("GM_TEST_DURATION", "1800")
	assert.Equal(t, 30*time.Minute, GetDuration("GM_TEST_DURATION", time.Second))

	t.Setenv("GM_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, GetDuration("GM_TEST_DURATION", time.Second))
}
