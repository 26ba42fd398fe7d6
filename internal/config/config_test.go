package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParsesDecimalFields(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	require.NoError(t, v.Unmarshal(cfg))

	require.NoError(t, resolve(cfg))
	assert.Equal(t, "0.01", cfg.Resolved.TickSize.String())
	assert.Equal(t, "1.0000", cfg.Resolved.MinOrderQuantity.String())
	assert.Equal(t, "10000.0000", cfg.Resolved.StarterBalance.String())
}

func TestResolveRejectsMalformedTickSize(t *testing.T) {
	cfg := &Config{}
	cfg.Market.TickSize = "not-a-number"
	cfg.Market.MinOrderQuantity = "1.0000"
	cfg.Accounts.StarterBalance = "10000.0000"

	err := resolve(cfg)
	require.Error(t, err)
}

func TestLoadMergesConfigFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: 9999\nmarket:\n  tick_size: \"0.05\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	// Load is a process-wide singleton; this test is the package's only
	// Load caller, so the file written above is the one it reads.
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestNewLoggerBuildsUsableLogger(t *testing.T) {
	logger, err := NewLogger("info")
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("config test logger smoke check")
}
