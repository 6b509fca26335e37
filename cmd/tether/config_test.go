package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models_dir: /srv/models
dtype: f16
device: cuda
device_id: 1
threads: 4
log_level: debug
log_format: json
server_address: 0.0.0.0:9000
`), 0o644))

	cfg := loadConfigFile(path)
	assert.Equal(t, "/srv/models", cfg.ModelsDir)
	assert.Equal(t, "f16", cfg.DType)
	assert.Equal(t, "cuda", cfg.Device)
	require.NotNil(t, cfg.DeviceID)
	assert.Equal(t, 1, *cfg.DeviceID)
	require.NotNil(t, cfg.Threads)
	assert.Equal(t, 4, *cfg.Threads)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddress)

	assert.Equal(t, Config{}, loadConfigFile(filepath.Join(t.TempDir(), "absent.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("dtype: [unclosed"), 0o644))
	assert.Equal(t, Config{}, loadConfigFile(bad))
}

func TestConfigPathHonorsEnv(t *testing.T) {
	t.Setenv("TETHER_CONFIG", "/etc/tether.yaml")
	assert.Equal(t, "/etc/tether.yaml", configPath())
}

func TestFlagsOverrideConfig(t *testing.T) {
	one, four := 1, 4
	cfg := Config{DType: "f16", Device: "cuda", DeviceID: &one, Threads: &four, ServerAddress: ":9000"}

	var addr string
	cmd := &cli.Command{
		Name: "serve",
		Flags: append(modelFlags(), &cli.StringFlag{
			Name:        "addr",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		}),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyServeConfig(c, cfg, &addr)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"serve", "--dtype", "bf16"}))

	assert.Equal(t, "bf16", dtypeName, "explicit flag wins")
	assert.Equal(t, "cuda", deviceName)
	assert.Equal(t, int64(1), deviceID)
	assert.Equal(t, int64(4), threads)
	assert.Equal(t, ":9000", addr)
}
