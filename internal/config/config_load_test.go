package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *pflag.FlagSet {
	return pflag.NewFlagSet("pdfconvd", pflag.ContinueOnError)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, ModeServer, cfg.Mode)
	assert.Equal(t, RoleSupervisor, cfg.Role)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, int64(DefaultMaxBodySize), cfg.MaxBodySize)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, EnginePDFCPU, cfg.MetadataEngine)
	assert.Equal(t, PolicyAlways, cfg.RestartPolicy)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoad_Flags(t *testing.T) {
	args := []string{
		"--workers=4",
		"--port=8081",
		"--host=127.0.0.1",
		"--maxbodysize=1024",
		"--metadata-engine=ledongthuc",
		"--restart-policy=max",
		"--max-restarts=3",
		"--restart-window=30s",
		"--shutdown-timeout=2s",
		"--loglevel=debug",
		"--logformat=console",
	}

	cfg, err := Load(newFlagSet(), args)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "127.0.0.1:8081", cfg.Address())
	assert.Equal(t, int64(1024), cfg.MaxBodySize)
	assert.Equal(t, EngineLedongthuc, cfg.MetadataEngine)
	assert.Equal(t, PolicyMax, cfg.RestartPolicy)
	assert.Equal(t, 3, cfg.MaxRestarts)
	assert.Equal(t, 30*time.Second, cfg.RestartWindow)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PDFCONV_WORKERS", "2")
	t.Setenv("PDFCONV_PORT", "9000")
	t.Setenv("PDFCONV_METADATA_ENGINE", "ledongthuc")
	t.Setenv("PDFCONV_ROLE", "worker")

	cfg, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, EngineLedongthuc, cfg.MetadataEngine)
	assert.True(t, cfg.IsWorker())
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PDFCONV_PORT", "9000")

	cfg, err := Load(newFlagSet(), []string{"--port=9001"})
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero workers", []string{"--workers=0"}},
		{"bad mode", []string{"--mode=cluster"}},
		{"bad engine", []string{"--metadata-engine=fitz"}},
		{"unknown flag", []string{"--dir=/tmp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(newFlagSet(), tt.args)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
