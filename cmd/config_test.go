package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

func TestRunConfig(t *testing.T) {
	redis := config.DefaultConfig()
	redis.Cache.Enabled = true
	redis.Cache.Backend = "redis"

	signed := config.DefaultConfig()
	signed.Blob.Backend = "signed_url"
	signed.Blob.SignedURLBase = "https://blobs.example.com"

	tests := []struct {
		name        string
		cfg         *config.Config
		asJSON      bool
		contains    []string
		notContains []string
	}{
		{
			name: "defaults",
			cfg:  config.DefaultConfig(),
			contains: []string{
				"Active Configuration:",
				"\nStorage:\n",
				"  Path: ~/.config/rafs-ddms/records.db",
				"  Backend: minio",
				"  Bucket: rafs-ddms",
				"  Addresses: http://localhost:9200",
				"  Enabled: false",
				"  Batch Size: 100",
				"  Data Page Limit: 100",
				"  Search Page Limit: 1000",
				"  ID: rafs",
				"  API Version: v2",
				"  Namespace: rafs_ddms",
			},
			notContains: []string{"Redis Address", "File:"},
		},
		{
			name:        "redis cache",
			cfg:         redis,
			contains:    []string{"  Backend: redis", "  Redis Address: localhost:6379", "  TTL: 10m"},
			notContains: []string{"Max Size"},
		},
		{
			name:        "signed url blobs",
			cfg:         signed,
			contains:    []string{"  Backend: signed_url", "  Signed URL Base: https://blobs.example.com"},
			notContains: []string{"Bucket"},
		},
		{
			name:     "json",
			cfg:      config.DefaultConfig(),
			asJSON:   true,
			contains: []string{`"batch_size": 100`, `"backend": "minio"`, `"id": "rafs"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			require.NoError(t, runConfig(&buf, tt.cfg, tt.asJSON))

			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}

			for _, unwanted := range tt.notContains {
				assert.NotContains(t, buf.String(), unwanted)
			}
		})
	}
}

func TestRunConfigHidesSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Blob.SecretAccessKey = "blob-secret"
	cfg.Search.Password = "search-secret"
	cfg.Cache.RedisPassword = "redis-secret"

	for _, asJSON := range []bool{false, true} {
		var buf bytes.Buffer

		require.NoError(t, runConfig(&buf, cfg, asJSON))
		assert.NotContains(t, buf.String(), "secret")
	}
}

func TestRunConfigNil(t *testing.T) {
	err := runConfig(&bytes.Buffer{}, nil, false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrTypeConfig, errors.GetType(err))
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	t.Setenv("RAFS_DDMS_CONFIG", path)

	cfg := config.DefaultConfig()
	cfg.Query.BatchSize = 42
	cfg.Search.Password = "secret"

	var buf bytes.Buffer

	require.NoError(t, saveConfig(&buf, cfg))
	assert.Equal(t, "Configuration saved to "+path+"\n", buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Query.BatchSize)
}

func TestGetConfigFromContext(t *testing.T) {
	assert.Equal(t, config.DefaultConfig(), getConfigFromContext(context.Background()))

	cfg := config.DefaultConfig()
	cfg.Query.BatchSize = 7

	ctx := context.WithValue(context.Background(), configKey{}, cfg)
	assert.Same(t, cfg, getConfigFromContext(ctx))
}

func TestFlagOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]interface{}
	}{
		{
			name: "no flags",
			args: []string{"rafs-ddms"},
			want: map[string]interface{}{},
		},
		{
			name: "global flags",
			args: []string{"rafs-ddms", "--db-path", "/tmp/records.db", "--log-level", "debug", "--batch-size", "7"},
			want: map[string]interface{}{
				"db-path":    "/tmp/records.db",
				"log-level":  "debug",
				"batch-size": 7,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]interface{}

			root := &cli.Command{
				Name:  "rafs-ddms",
				Flags: NewRootCommand().Flags,
				Action: func(_ context.Context, cmd *cli.Command) error {
					got = flagOverrides(cmd)
					return nil
				},
			}

			require.NoError(t, root.Run(context.Background(), tt.args))
			assert.Equal(t, tt.want, got)

			_, err := config.LoadConfigWithOverrides(got)
			require.NoError(t, err)
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"config", "query", "search", "upload", "records", "stats"}, names)
}
