package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/loghell/internal/cluster"
	"github.com/coffersTech/loghell/internal/index"
	"github.com/coffersTech/loghell/internal/storage"
	json "github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting of the server. It is read once at startup.
type Config struct {
	SocketAddr string

	Index       string
	IndexFields []index.FieldSpec

	Storage     string
	StoragePath string
	S3          storage.S3Options

	ClusterAddrs  []string
	ClusterBuffer int

	SSEQuery        string
	SSEPollInterval time.Duration
	DashboardPath   string

	MetricsAddr     string
	ShutdownTimeout time.Duration

	LogLevel    string
	LogPretty   bool
	ServiceName string
	InstanceID  string
}

// Keys double as environment variable names.
const (
	keySocketAddr      = "socket_addr"
	keyIndex           = "index"
	keyIndexFields     = "index_fields"
	keyStorage         = "storage"
	keyStoragePath     = "storage_path"
	keyS3Bucket        = "s3_bucket"
	keyS3Prefix        = "s3_prefix"
	keyS3Region        = "s3_region"
	keyS3Timeout       = "s3_timeout"
	keyClusterAddrs    = "cluster_addrs"
	keyClusterBuffer   = "cluster_buffer"
	keySSEQuery        = "sse_query"
	keySSEPollInterval = "sse_poll_interval"
	keyDashboardPath   = "dashboard_path"
	keyMetricsAddr     = "metrics_addr"
	keyShutdownTimeout = "shutdown_timeout"
	keyLogLevel        = "log_level"
	keyLogPretty       = "log_pretty"
	keyServiceName     = "service_name"
)

var defaults = map[string]any{
	keySocketAddr:      "127.0.0.1:6669",
	keyIndex:           "nonsense",
	keyIndexFields:     "",
	keyStorage:         "in_memory",
	keyStoragePath:     "./data/loghell.db",
	keyS3Bucket:        "",
	keyS3Prefix:        "entries/",
	keyS3Region:        "",
	keyS3Timeout:       "5s",
	keyClusterAddrs:    "",
	keyClusterBuffer:   cluster.DefaultBufferSize,
	keySSEQuery:        "level:debug",
	keySSEPollInterval: "1s",
	keyDashboardPath:   "",
	keyMetricsAddr:     "",
	keyShutdownTimeout: "5s",
	keyLogLevel:        "info",
	keyLogPretty:       false,
	keyServiceName:     "loghell",
}

// flag name -> config key
var flagKeys = map[string]string{
	"addr":      keySocketAddr,
	"index":     keyIndex,
	"storage":   keyStorage,
	"cluster":   keyClusterAddrs,
	"log-level": keyLogLevel,
	"pretty":    keyLogPretty,
	"metrics":   keyMetricsAddr,
}

// SetupFlagSet registers the server flags on fs.
func SetupFlagSet(fs *pflag.FlagSet) {
	fs.StringP("file", "f", "", "configuration file to use")
	fs.String("addr", "", "listen address (SOCKET_ADDR)")
	fs.String("index", "", "index backend: nonsense, tantivy (INDEX)")
	fs.String("storage", "", "storage backend: in_memory, file, s3 (STORAGE)")
	fs.String("cluster", "", "comma separated peer addresses (CLUSTER_ADDRS)")
	fs.String("log-level", "", "log level (LOG_LEVEL)")
	fs.Bool("pretty", false, "human readable logs (LOG_PRETTY)")
	fs.String("metrics", "", "prometheus listen address (METRICS_ADDR)")
}

// Load resolves the configuration from, in order of precedence, changed
// flags, environment, the optional configuration file and defaults.
// fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if fs != nil {
		if file, _ := fs.GetString("file"); file != "" {
			v.SetConfigFile(file)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	fields, err := parseFields(v.GetString(keyIndexFields))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SocketAddr:  v.GetString(keySocketAddr),
		Index:       strings.TrimSpace(v.GetString(keyIndex)),
		IndexFields: fields,
		Storage:     strings.TrimSpace(v.GetString(keyStorage)),
		StoragePath: v.GetString(keyStoragePath),
		S3: storage.S3Options{
			Bucket:  v.GetString(keyS3Bucket),
			Prefix:  v.GetString(keyS3Prefix),
			Region:  v.GetString(keyS3Region),
			Timeout: v.GetDuration(keyS3Timeout),
		},
		ClusterAddrs:    cluster.ParsePeers(v.GetString(keyClusterAddrs)),
		ClusterBuffer:   v.GetInt(keyClusterBuffer),
		SSEQuery:        v.GetString(keySSEQuery),
		SSEPollInterval: v.GetDuration(keySSEPollInterval),
		DashboardPath:   v.GetString(keyDashboardPath),
		MetricsAddr:     v.GetString(keyMetricsAddr),
		ShutdownTimeout: v.GetDuration(keyShutdownTimeout),
		LogLevel:        v.GetString(keyLogLevel),
		LogPretty:       v.GetBool(keyLogPretty),
		ServiceName:     v.GetString(keyServiceName),
		InstanceID:      instanceID(),
	}
	return cfg, nil
}

func parseFields(raw string) ([]index.FieldSpec, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var fields []index.FieldSpec
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("invalid INDEX_FIELDS: %w", err)
	}
	return fields, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.SocketAddr == "" {
		errs = append(errs, errors.New("SOCKET_ADDR is empty"))
	}

	switch index.ParseType(c.Index) {
	case index.TypeUnknown:
		errs = append(errs, fmt.Errorf("INDEX: %w: %q", index.ErrUnknownType, c.Index))
	case index.TypeTantivy:
		if err := index.ValidateFields(c.IndexFields); err != nil {
			errs = append(errs, fmt.Errorf("INDEX_FIELDS: %w", err))
		}
	}

	switch storage.ParseType(c.Storage) {
	case storage.TypeUnknown:
		errs = append(errs, fmt.Errorf("STORAGE: %w: %q", storage.ErrUnknownType, c.Storage))
	case storage.TypeFile:
		if c.StoragePath == "" {
			errs = append(errs, errors.New("STORAGE_PATH is required for file storage"))
		}
	case storage.TypeS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	}

	if c.ClusterBuffer <= 0 {
		errs = append(errs, fmt.Errorf("CLUSTER_BUFFER must be positive, got %d", c.ClusterBuffer))
	}
	if _, err := index.ParseQuery(c.SSEQuery); err != nil {
		errs = append(errs, fmt.Errorf("SSE_QUERY: %w", err))
	}
	if c.SSEPollInterval <= 0 {
		errs = append(errs, errors.New("SSE_POLL_INTERVAL must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// instanceID identifies this process in logs: the hostname, or random hex
// when there is none.
func instanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
