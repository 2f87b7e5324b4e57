package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coffersTech/loghell/internal/index"
	"github.com/coffersTech/loghell/internal/storage"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6669", cfg.SocketAddr)
	assert.Equal(t, "nonsense", cfg.Index)
	assert.Nil(t, cfg.IndexFields)
	assert.Equal(t, "in_memory", cfg.Storage)
	assert.Equal(t, "./data/loghell.db", cfg.StoragePath)
	assert.Equal(t, "entries/", cfg.S3.Prefix)
	assert.Equal(t, 5*time.Second, cfg.S3.Timeout)
	assert.Empty(t, cfg.ClusterAddrs)
	assert.Equal(t, 100, cfg.ClusterBuffer)
	assert.Equal(t, "level:debug", cfg.SSEQuery)
	assert.Equal(t, time.Second, cfg.SSEPollInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, "loghell", cfg.ServiceName)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SOCKET_ADDR", "0.0.0.0:7000")
	t.Setenv("STORAGE", "file")
	t.Setenv("STORAGE_PATH", "/var/lib/loghell/data.db")
	t.Setenv("CLUSTER_ADDRS", "a:6669, b:6669")
	t.Setenv("CLUSTER_BUFFER", "16")
	t.Setenv("SSE_POLL_INTERVAL", "250ms")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.SocketAddr)
	assert.Equal(t, "file", cfg.Storage)
	assert.Equal(t, "/var/lib/loghell/data.db", cfg.StoragePath)
	assert.Equal(t, []string{"a:6669", "b:6669"}, cfg.ClusterAddrs)
	assert.Equal(t, 16, cfg.ClusterBuffer)
	assert.Equal(t, 250*time.Millisecond, cfg.SSEPollInterval)
	assert.True(t, cfg.LogPretty)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_IndexFields(t *testing.T) {
	t.Setenv("INDEX", "tantivy")
	t.Setenv("INDEX_FIELDS", `[{"name":"message","type":"text","stored":true},{"name":"level","type":"string"}]`)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, []index.FieldSpec{
		{Name: "message", Type: "text", Stored: true},
		{Name: "level", Type: "string"},
	}, cfg.IndexFields)
	assert.NoError(t, cfg.Validate())

	t.Setenv("INDEX_FIELDS", `{"name":`)
	_, err = Load(nil)
	assert.ErrorContains(t, err, "INDEX_FIELDS")
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SOCKET_ADDR", "0.0.0.0:7000")
	t.Setenv("STORAGE", "file")

	fs := pflag.NewFlagSet("loghell", pflag.ContinueOnError)
	SetupFlagSet(fs)
	require.NoError(t, fs.Parse([]string{"--addr", "127.0.0.1:9000", "--cluster", "peer:6669", "--pretty"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.SocketAddr)
	assert.Equal(t, "file", cfg.Storage)
	assert.Equal(t, []string{"peer:6669"}, cfg.ClusterAddrs)
	assert.True(t, cfg.LogPretty)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loghell.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: s3\ns3_bucket: logs\ns3_region: eu-west-1\nsse_query: service:api\n"), 0644))

	fs := pflag.NewFlagSet("loghell", pflag.ContinueOnError)
	SetupFlagSet(fs)
	require.NoError(t, fs.Parse([]string{"-f", path}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Storage)
	assert.Equal(t, storage.S3Options{Bucket: "logs", Prefix: "entries/", Region: "eu-west-1", Timeout: 5 * time.Second}, cfg.S3)
	assert.Equal(t, "service:api", cfg.SSEQuery)
	assert.NoError(t, cfg.Validate())

	require.NoError(t, fs.Set("file", filepath.Join(t.TempDir(), "missing.yaml")))
	_, err = Load(fs)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
		msg    string
	}{
		{name: "unknown index", mutate: func(c *Config) { c.Index = "lucene" }, want: index.ErrUnknownType},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = "floppy" }, want: storage.ErrUnknownType},
		{name: "bad field type", mutate: func(c *Config) {
			c.Index = "tantivy"
			c.IndexFields = []index.FieldSpec{{Name: "x", Type: "blob"}}
		}, msg: "INDEX_FIELDS"},
		{name: "file without path", mutate: func(c *Config) { c.Storage = "file"; c.StoragePath = "" }, msg: "STORAGE_PATH"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage = "s3" }, msg: "S3_BUCKET"},
		{name: "bad buffer", mutate: func(c *Config) { c.ClusterBuffer = 0 }, msg: "CLUSTER_BUFFER"},
		{name: "bad query", mutate: func(c *Config) { c.SSEQuery = "level" }, want: index.ErrQuerySyntax},
		{name: "bad poll", mutate: func(c *Config) { c.SSEPollInterval = 0 }, msg: "SSE_POLL_INTERVAL"},
		{name: "bad shutdown", mutate: func(c *Config) { c.ShutdownTimeout = -time.Second }, msg: "SHUTDOWN_TIMEOUT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
			if tc.msg != "" {
				assert.ErrorContains(t, err, tc.msg)
			}
		})
	}
}
