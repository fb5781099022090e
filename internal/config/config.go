package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vfbgraph/graphmaint/internal/batch"
	"github.com/vfbgraph/graphmaint/internal/graph"
)

// Config holds all configuration settings
type Config struct {
	// Graph store connection
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Mutation submission
	Runner RunnerConfig `yaml:"runner" mapstructure:"runner"`

	// Background job draining
	Poller PollerConfig `yaml:"poller" mapstructure:"poller"`

	// Run history
	Ledger LedgerConfig `yaml:"ledger" mapstructure:"ledger"`

	// Resume state
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`

	// Single-runner lock
	Lock LockConfig `yaml:"lock" mapstructure:"lock"`

	// Log output
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

type StoreConfig struct {
	URI                string        `yaml:"uri" mapstructure:"uri"`
	User               string        `yaml:"user" mapstructure:"user"`
	Password           string        `yaml:"password" mapstructure:"password"` // prefer env or keyring
	Database           string        `yaml:"database" mapstructure:"database"`
	MaxPoolSize        int           `yaml:"max_pool_size" mapstructure:"max_pool_size"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	AcquisitionTimeout time.Duration `yaml:"acquisition_timeout" mapstructure:"acquisition_timeout"`
}

type RunnerConfig struct {
	ChunkLength   int           `yaml:"chunk_length" mapstructure:"chunk_length"`
	ChunkRate     float64       `yaml:"chunk_rate" mapstructure:"chunk_rate"` // chunks per second, 0 = unlimited
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	TSVBatchRows  int           `yaml:"tsv_batch_rows" mapstructure:"tsv_batch_rows"`
}

type PollerConfig struct {
	Interval        time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxWait         time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	AbortOnRejected bool          `yaml:"abort_on_rejected" mapstructure:"abort_on_rejected"`
}

type LedgerConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // "sqlite", "postgres", "none"
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type CheckpointConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type LockConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"` // text, json
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".graphmaint")
	runner := batch.DefaultOptions()

	return &Config{
		Store: StoreConfig{
			URI:                "bolt://localhost:7687",
			User:               "neo4j",
			Database:           "neo4j",
			MaxPoolSize:        10,
			ConnectTimeout:     30 * time.Second,
			AcquisitionTimeout: time.Minute,
		},
		Runner: RunnerConfig{
			ChunkLength:   runner.ChunkLength,
			RetryAttempts: runner.RetryAttempts,
			RetryDelay:    runner.RetryDelay,
			TSVBatchRows:  1000,
		},
		Poller: PollerConfig{
			Interval: 30 * time.Minute, // the post-load jobs run for hours
			MaxWait:  12 * time.Hour,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(stateDir, "ledger.db"),
		},
		Checkpoint: CheckpointConfig{
			Path: filepath.Join(stateDir, "checkpoints.db"),
		},
		Lock: LockConfig{
			Addr: "localhost:6379",
			TTL:  10 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from file, .env files and the environment.
// Precedence, highest first: explicit env overrides (PDBserver, PDBpass, ...),
// GRAPHMAINT_* variables, config file, defaults.
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	// GRAPHMAINT_STORE_URI -> store.uri
	v.SetEnvPrefix("GRAPHMAINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".graphmaint")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".graphmaint"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	cfg.Ledger.DSN = expandPath(cfg.Ledger.DSN)
	cfg.Checkpoint.Path = expandPath(cfg.Checkpoint.Path)
	cfg.Log.File = expandPath(cfg.Log.File)

	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can bind it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("store.uri", cfg.Store.URI)
	v.SetDefault("store.user", cfg.Store.User)
	v.SetDefault("store.password", cfg.Store.Password)
	v.SetDefault("store.database", cfg.Store.Database)
	v.SetDefault("store.max_pool_size", cfg.Store.MaxPoolSize)
	v.SetDefault("store.connect_timeout", cfg.Store.ConnectTimeout)
	v.SetDefault("store.acquisition_timeout", cfg.Store.AcquisitionTimeout)

	v.SetDefault("runner.chunk_length", cfg.Runner.ChunkLength)
	v.SetDefault("runner.chunk_rate", cfg.Runner.ChunkRate)
	v.SetDefault("runner.retry_attempts", cfg.Runner.RetryAttempts)
	v.SetDefault("runner.retry_delay", cfg.Runner.RetryDelay)
	v.SetDefault("runner.tsv_batch_rows", cfg.Runner.TSVBatchRows)

	v.SetDefault("poller.interval", cfg.Poller.Interval)
	v.SetDefault("poller.max_wait", cfg.Poller.MaxWait)
	v.SetDefault("poller.abort_on_rejected", cfg.Poller.AbortOnRejected)

	v.SetDefault("ledger.driver", cfg.Ledger.Driver)
	v.SetDefault("ledger.dsn", cfg.Ledger.DSN)

	v.SetDefault("checkpoint.path", cfg.Checkpoint.Path)

	v.SetDefault("lock.enabled", cfg.Lock.Enabled)
	v.SetDefault("lock.addr", cfg.Lock.Addr)
	v.SetDefault("lock.password", cfg.Lock.Password)
	v.SetDefault("lock.db", cfg.Lock.DB)
	v.SetDefault("lock.ttl", cfg.Lock.TTL)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overwrites a variable that is already set, so the first file wins.
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	// A project .env further up the tree (running from a subdirectory)
	if path, ok := findEnvFile(); ok {
		_ = godotenv.Load(path)
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".graphmaint", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the pipeline's historical variable names
func applyEnvOverrides(cfg *Config) {
	// Store endpoint and password as set by the load pipeline
	if server := os.Getenv("PDBserver"); server != "" {
		cfg.Store.URI = normalizeStoreURI(server)
	}
	if pass := os.Getenv("PDBpass"); pass != "" {
		cfg.Store.Password = pass
	}
	cfg.Store.User = GetString("PDBuser", cfg.Store.User)

	// Common Neo4j names
	cfg.Store.URI = GetString("NEO4J_URI", cfg.Store.URI)
	cfg.Store.User = GetString("NEO4J_USER", cfg.Store.User)
	cfg.Store.Password = GetString("NEO4J_PASSWORD", cfg.Store.Password)
	cfg.Store.Database = GetString("NEO4J_DATABASE", cfg.Store.Database)
	cfg.Store.ConnectTimeout = GetDuration("NEO4J_CONNECT_TIMEOUT", cfg.Store.ConnectTimeout)

	// Shared services
	cfg.Lock.Addr = GetString("REDIS_ADDR", cfg.Lock.Addr)
	cfg.Lock.Password = GetString("REDIS_PASSWORD", cfg.Lock.Password)
	cfg.Lock.DB = GetInt("REDIS_DB", cfg.Lock.DB)
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" && cfg.Ledger.Driver == "postgres" {
		cfg.Ledger.DSN = dsn
	}

	if GetBool("GRAPHMAINT_DEBUG", false) {
		cfg.Log.Level = "debug"
	}
}

// normalizeStoreURI adds the bolt scheme to bare host:port endpoints, which
// is how PDBserver is usually given
func normalizeStoreURI(server string) string {
	server = strings.TrimSpace(server)
	if strings.Contains(server, "://") {
		return server
	}
	return "bolt://" + server
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// ClientOptions returns the store connection settings for graph.NewClient
func (c *Config) ClientOptions() graph.ClientOptions {
	return graph.ClientOptions{
		URI:                c.Store.URI,
		User:               c.Store.User,
		Password:           c.Store.Password,
		Database:           c.Store.Database,
		MaxPoolSize:        c.Store.MaxPoolSize,
		ConnectTimeout:     c.Store.ConnectTimeout,
		AcquisitionTimeout: c.Store.AcquisitionTimeout,
	}
}

// RunnerOptions returns the batch runner settings
func (c *Config) RunnerOptions() batch.Options {
	return batch.Options{
		ChunkLength:   c.Runner.ChunkLength,
		ChunkRate:     c.Runner.ChunkRate,
		RetryAttempts: c.Runner.RetryAttempts,
		RetryDelay:    c.Runner.RetryDelay,
	}
}

// Save saves configuration to file. The store password is never written.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	store := c.Store
	store.Password = ""
	lock := c.Lock
	lock.Password = ""

	v.Set("store", toMap(store))
	v.Set("runner", toMap(c.Runner))
	v.Set("poller", toMap(c.Poller))
	v.Set("ledger", toMap(c.Ledger))
	v.Set("checkpoint", toMap(c.Checkpoint))
	v.Set("lock", toMap(lock))
	v.Set("log", toMap(c.Log))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// toMap flattens a section struct into yaml-keyed values, durations as
// strings ("30m0s") so the written file stays readable
func toMap(section any) map[string]any {
	out := make(map[string]any)
	rv := reflect.ValueOf(section)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := strings.Split(rt.Field(i).Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		value := rv.Field(i).Interface()
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		out[key] = value
	}
	return out
}
