package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/sybilwatch/service/registry"
	"github.com/brojonat/sybilwatch/service/sybil"
)

// Config holds all application configuration loaded from environment variables.
// Everything has a default; Load fails only on values that do not parse or
// contradict each other.
type Config struct {
	LogLevel string

	// Analysis inputs and output
	GossipDir            string
	ActiveValidatorsFile string
	JitoValidatorsFile   string
	SFDPParticipantsFile string
	OutputFile           string
	ReadConcurrency      int

	// Solana configuration
	SolanaRPCURL string

	// Optional sinks. Empty disables the feature.
	DatabaseURL string
	NATSURL     string
	MetricsFile string

	// Server configuration
	ServerAddr  string
	MetricsAddr string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Scheduling configuration
	RecordInterval    time.Duration
	AnalyzeInterval   time.Duration
	RefreshValidators bool
}

// Load reads configuration from environment variables and validates it.
// Returns an error listing every invalid value.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Analysis inputs
	cfg.GossipDir = getEnvOrDefault("GOSSIP_DIR", "/home/ubuntu/gossip-out")
	cfg.ActiveValidatorsFile = getEnvOrDefault("ACTIVE_VALIDATORS_FILE", "active_validators.json")
	cfg.JitoValidatorsFile = getEnvOrDefault("JITO_VALIDATORS_FILE", "jito_validators.json")
	cfg.SFDPParticipantsFile = getEnvOrDefault("SFDP_PARTICIPANTS_FILE", "sfdp_participants.json")
	cfg.OutputFile = getEnvOrDefault("OUTPUT_FILE", "sybil_analysis_output.json")

	readConcurrency, err := parseInt("READ_CONCURRENCY", 8)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReadConcurrency = readConcurrency
	}

	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.MetricsFile = os.Getenv("METRICS_FILE")

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "sybilwatch")

	recordInterval, err := parseDuration("RECORD_INTERVAL", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RecordInterval = recordInterval
	}

	analyzeInterval, err := parseDuration("ANALYZE_INTERVAL", "6h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AnalyzeInterval = analyzeInterval
	}

	refresh, err := parseBool("REFRESH_VALIDATORS", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RefreshValidators = refresh
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.GossipDir == "" {
		errs = append(errs, fmt.Errorf("GossipDir is required"))
	}
	if c.ActiveValidatorsFile == "" {
		errs = append(errs, fmt.Errorf("ActiveValidatorsFile is required"))
	}
	if c.JitoValidatorsFile == "" {
		errs = append(errs, fmt.Errorf("JitoValidatorsFile is required"))
	}
	if c.SFDPParticipantsFile == "" {
		errs = append(errs, fmt.Errorf("SFDPParticipantsFile is required"))
	}
	if c.OutputFile == "" {
		errs = append(errs, fmt.Errorf("OutputFile is required"))
	}

	if c.ReadConcurrency < 1 {
		errs = append(errs, fmt.Errorf("ReadConcurrency must be at least 1"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.RecordInterval < time.Minute {
		errs = append(errs, fmt.Errorf("RecordInterval must be at least 1 minute"))
	}

	if c.AnalyzeInterval < c.RecordInterval {
		errs = append(errs, fmt.Errorf("AnalyzeInterval (%v) cannot be less than RecordInterval (%v)",
			c.AnalyzeInterval, c.RecordInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RegistryPaths returns the locations of the three reference datasets.
func (c *Config) RegistryPaths() registry.Paths {
	return registry.Paths{
		ActiveValidators: c.ActiveValidatorsFile,
		JitoValidators:   c.JitoValidatorsFile,
		SFDPParticipants: c.SFDPParticipantsFile,
	}
}

// AnalyzerInputs returns the inputs of an analysis run.
func (c *Config) AnalyzerInputs() sybil.Inputs {
	return sybil.Inputs{Registry: c.RegistryPaths(), GossipDir: c.GossipDir}
}

// CheckInputs verifies that the gossip directory and the reference files
// exist. A missing input is reported before any work starts.
func (c *Config) CheckInputs() error {
	var errs []error

	info, err := os.Stat(c.GossipDir)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("gossip directory %s: %w", c.GossipDir, err))
	case !info.IsDir():
		errs = append(errs, fmt.Errorf("gossip directory %s is not a directory", c.GossipDir))
	}

	for _, path := range []string{c.ActiveValidatorsFile, c.JitoValidatorsFile, c.SFDPParticipantsFile} {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("input file %s: %w", path, err))
		case info.IsDir():
			errs = append(errs, fmt.Errorf("input file %s is a directory", path))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing inputs: %v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
