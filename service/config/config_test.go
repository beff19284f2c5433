package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/home/ubuntu/gossip-out", cfg.GossipDir)
	assert.Equal(t, "active_validators.json", cfg.ActiveValidatorsFile)
	assert.Equal(t, "jito_validators.json", cfg.JitoValidatorsFile)
	assert.Equal(t, "sfdp_participants.json", cfg.SFDPParticipantsFile)
	assert.Equal(t, "sybil_analysis_output.json", cfg.OutputFile)
	assert.Equal(t, 8, cfg.ReadConcurrency)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sybilwatch", cfg.TemporalTaskQueue)
	assert.Equal(t, 10*time.Minute, cfg.RecordInterval)
	assert.Equal(t, 6*time.Hour, cfg.AnalyzeInterval)
	assert.False(t, cfg.RefreshValidators)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("GOSSIP_DIR", "/data/gossip")
	os.Setenv("OUTPUT_FILE", "/data/out.json")
	os.Setenv("READ_CONCURRENCY", "2")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("RECORD_INTERVAL", "5m")
	os.Setenv("ANALYZE_INTERVAL", "1h")
	os.Setenv("REFRESH_VALIDATORS", "true")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/gossip", cfg.GossipDir)
	assert.Equal(t, "/data/out.json", cfg.OutputFile)
	assert.Equal(t, 2, cfg.ReadConcurrency)
	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, 5*time.Minute, cfg.RecordInterval)
	assert.Equal(t, time.Hour, cfg.AnalyzeInterval)
	assert.True(t, cfg.RefreshValidators)

	in := cfg.AnalyzerInputs()
	assert.Equal(t, "/data/gossip", in.GossipDir)
	assert.Equal(t, "active_validators.json", in.Registry.ActiveValidators)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad duration", "RECORD_INTERVAL", "often", "invalid duration"},
		{"bad integer", "READ_CONCURRENCY", "many", "invalid integer"},
		{"bad boolean", "REFRESH_VALIDATORS", "maybe", "invalid boolean"},
		{"zero concurrency", "READ_CONCURRENCY", "0", "ReadConcurrency must be at least 1"},
		{"analyze faster than record", "ANALYZE_INTERVAL", "1m", "cannot be less than RecordInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv(tt.key, tt.value)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_MissingFields(t *testing.T) {
	cfg := &Config{
		ReadConcurrency:   1,
		TemporalTaskQueue: "q",
		RecordInterval:    time.Minute,
		AnalyzeInterval:   time.Hour,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GossipDir is required")
	assert.Contains(t, err.Error(), "OutputFile is required")
}

func TestValidate_TooShortInterval(t *testing.T) {
	cfg := validConfig(t.TempDir())
	cfg.RecordInterval = 10 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 1 minute")
}

func TestCheckInputs(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(dir)
	require.NoError(t, os.Mkdir(cfg.GossipDir, 0o755))
	for _, p := range []string{cfg.ActiveValidatorsFile, cfg.JitoValidatorsFile, cfg.SFDPParticipantsFile} {
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}

	require.NoError(t, cfg.CheckInputs())

	require.NoError(t, os.Remove(cfg.JitoValidatorsFile))
	err := cfg.CheckInputs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jito_validators.json")

	cfg.GossipDir = cfg.ActiveValidatorsFile
	err = cfg.CheckInputs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestMustLoad_Panics(t *testing.T) {
	os.Setenv("READ_CONCURRENCY", "-1")
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

func validConfig(dir string) *Config {
	return &Config{
		GossipDir:            filepath.Join(dir, "gossip"),
		ActiveValidatorsFile: filepath.Join(dir, "active_validators.json"),
		JitoValidatorsFile:   filepath.Join(dir, "jito_validators.json"),
		SFDPParticipantsFile: filepath.Join(dir, "sfdp_participants.json"),
		OutputFile:           filepath.Join(dir, "out.json"),
		ReadConcurrency:      4,
		TemporalTaskQueue:    "sybilwatch",
		RecordInterval:       10 * time.Minute,
		AnalyzeInterval:      6 * time.Hour,
	}
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"GOSSIP_DIR", "OUTPUT_FILE", "READ_CONCURRENCY", "DATABASE_URL", "NATS_URL",
		"SERVER_ADDR", "LOG_LEVEL", "TEMPORAL_HOST", "RECORD_INTERVAL", "ANALYZE_INTERVAL",
		"REFRESH_VALIDATORS",
	} {
		os.Unsetenv(key)
	}
}
