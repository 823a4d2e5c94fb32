package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "RAFS_DDMS_"

	maxWorkers = 32
)

// Config represents the application configuration
type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Blob    BlobConfig    `json:"blob"    yaml:"blob"`
	Search  SearchConfig  `json:"search"  yaml:"search"`
	Cache   CacheConfig   `json:"cache"   yaml:"cache"`
	Query   QueryConfig   `json:"query"   yaml:"query"`
	DDMS    DDMSConfig    `json:"ddms"    yaml:"ddms"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      yaml:"level"      env:"LOG_LEVEL"      envDefault:"info" validate:"oneof=debug info warn warning error"`                         // debug, info, warn, error
	Format    string `json:"format"     yaml:"format"     env:"LOG_FORMAT"     envDefault:"text" validate:"oneof=text json"`                         // text, json
	Output    string `json:"output"     yaml:"output"     env:"LOG_OUTPUT"     envDefault:"stderr" validate:"oneof=stdout stderr file"`                       // stdout, stderr, file
	File      string `json:"file"       yaml:"file"       env:"LOG_FILE"       envDefault:"~/.config/rafs-ddms/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" yaml:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// StorageConfig configures the local record store
type StorageConfig struct {
	Path            string `json:"path"               yaml:"path"               env:"DB_PATH"               envDefault:"~/.config/rafs-ddms/records.db"`
	MaxConnections  int    `json:"max_connections"    yaml:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10" validate:"gt=0"`
	MaxIdleConns    int    `json:"max_idle_conns"     yaml:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5" validate:"gte=0"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  yaml:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m" validate:"duration"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" yaml:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m" validate:"duration"`
	QueryTimeout    string `json:"query_timeout"      yaml:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s" validate:"duration"`
}

// BlobConfig configures where columnar payloads are read from and written to
type BlobConfig struct {
	Backend         string `json:"backend"           yaml:"backend"           env:"BLOB_BACKEND"           envDefault:"minio" validate:"oneof=minio signed_url"` // minio, signed_url
	Endpoint        string `json:"endpoint"          yaml:"endpoint"          env:"BLOB_ENDPOINT"          envDefault:""`
	AccessKeyID     string `json:"access_key_id"     yaml:"access_key_id"     env:"BLOB_ACCESS_KEY_ID"     envDefault:""`
	SecretAccessKey string `json:"-"                 yaml:"-"                 env:"BLOB_SECRET_ACCESS_KEY" envDefault:""`
	Bucket          string `json:"bucket"            yaml:"bucket"            env:"BLOB_BUCKET"            envDefault:"rafs-ddms"`
	UseSSL          bool   `json:"use_ssl"           yaml:"use_ssl"           env:"BLOB_USE_SSL"           envDefault:"false"`
	SignedURLBase   string `json:"signed_url_base"   yaml:"signed_url_base"   env:"BLOB_SIGNED_URL_BASE"   envDefault:"" validate:"omitempty,url"`
	FetchTimeout    string `json:"fetch_timeout"     yaml:"fetch_timeout"     env:"BLOB_FETCH_TIMEOUT"     envDefault:"60s" validate:"duration"`
}

// SearchConfig configures the search backend
type SearchConfig struct {
	Addresses []string `json:"addresses" yaml:"addresses" env:"SEARCH_ADDRESSES" envDefault:"http://localhost:9200" validate:"min=1,dive,url" envSeparator:","`
	Username  string   `json:"username"  yaml:"username"  env:"SEARCH_USERNAME"  envDefault:""`
	Password  string   `json:"-"         yaml:"-"         env:"SEARCH_PASSWORD"  envDefault:""`
	Index     string   `json:"index"     yaml:"index"     env:"SEARCH_INDEX"     envDefault:"records"`
	PageSize  int      `json:"page_size" yaml:"page_size" env:"SEARCH_PAGE_SIZE" envDefault:"1000" validate:"gt=0"`
	Timeout   string   `json:"timeout"   yaml:"timeout"   env:"SEARCH_TIMEOUT"   envDefault:"30s" validate:"duration"`
}

// CacheConfig represents caching configuration
type CacheConfig struct {
	Enabled       bool   `json:"enabled"        yaml:"enabled"        env:"CACHE_ENABLED"        envDefault:"false"`
	Backend       string `json:"backend"        yaml:"backend"        env:"CACHE_BACKEND"        envDefault:"file" validate:"oneof=redis file"` // redis, file
	RedisAddr     string `json:"redis_addr"     yaml:"redis_addr"     env:"CACHE_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisDB       int    `json:"redis_db"       yaml:"redis_db"       env:"CACHE_REDIS_DB"       envDefault:"0" validate:"gte=0"`
	RedisPassword string `json:"-"              yaml:"-"              env:"CACHE_REDIS_PASSWORD" envDefault:""`
	Directory     string `json:"directory"      yaml:"directory"      env:"CACHE_DIR"            envDefault:"~/.cache/rafs-ddms"`
	MaxSizeMB     int    `json:"max_size_mb"    yaml:"max_size_mb"    env:"CACHE_MAX_SIZE_MB"    envDefault:"500" validate:"gte=0"`
	TTL           string `json:"ttl"            yaml:"ttl"            env:"CACHE_TTL"            envDefault:"10m" validate:"duration"`
	CleanupFreq   string `json:"cleanup_frequency" yaml:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h" validate:"duration"`
}

// QueryConfig bounds batch fetches and pagination
type QueryConfig struct {
	BatchSize         int `json:"batch_size"          yaml:"batch_size"          env:"QUERY_BATCH_SIZE"          envDefault:"100" validate:"gt=0"`
	Workers           int `json:"workers"             yaml:"workers"             env:"QUERY_WORKERS"             envDefault:"0" validate:"gte=0"`
	DataPageLimit     int `json:"data_page_limit"     yaml:"data_page_limit"     env:"QUERY_DATA_PAGE_LIMIT"     envDefault:"100" validate:"gt=0"`
	SearchPageLimit   int `json:"search_page_limit"   yaml:"search_page_limit"   env:"QUERY_SEARCH_PAGE_LIMIT"   envDefault:"1000" validate:"gt=0"`
	StorageQueryLimit int `json:"storage_query_limit" yaml:"storage_query_limit" env:"QUERY_STORAGE_QUERY_LIMIT" envDefault:"100" validate:"gt=0"`
	MaxIDDepth        int `json:"max_id_depth"        yaml:"max_id_depth"        env:"QUERY_MAX_ID_DEPTH"        envDefault:"32" validate:"gt=0"`
	MemoryReleaseMB   int `json:"memory_release_mb"   yaml:"memory_release_mb"   env:"QUERY_MEMORY_RELEASE_MB"   envDefault:"1024" validate:"gte=0"` // 0 disables
}

// DDMSConfig identifies this service in dataset URNs
type DDMSConfig struct {
	ID         string `json:"id"          yaml:"id"          env:"DDMS_ID"          envDefault:"rafs" validate:"required"`
	APIVersion string `json:"api_version" yaml:"api_version" env:"DDMS_API_VERSION" envDefault:"v2" validate:"required"`
	SchemaDir  string `json:"schema_dir"  yaml:"schema_dir"  env:"DDMS_SCHEMA_DIR"  envDefault:"~/.config/rafs-ddms/schemas"`
}

// MetricsConfig configures prometheus collectors
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"   yaml:"enabled"   env:"METRICS_ENABLED"   envDefault:"true"`
	Namespace string `json:"namespace" yaml:"namespace" env:"METRICS_NAMESPACE" envDefault:"rafs_ddms"`
}

// DefaultConfig returns the configuration built from defaults only
func DefaultConfig() *Config {
	config := &Config{}

	// Defaults are declared on the struct tags, so parse an empty environment
	_ = env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	})

	return config
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	// Load from config file if it exists
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Environment variables win over the file
	if err := applyEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironment overlays only the variables that are actually set
func applyEnvironment(config *Config) error {
	var fromEnv Config
	if err := env.ParseWithOptions(&fromEnv, env.Options{Prefix: envPrefix}); err != nil {
		return err
	}

	defaults := DefaultConfig()
	overlayChanged(config, &fromEnv, defaults)

	return nil
}

// overlayChanged copies fields of source that differ from defaults into target
func overlayChanged(target, source, defaults *Config) {
	var overlay func(t, s, d reflect.Value)
	overlay = func(t, s, d reflect.Value) {
		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				overlay(t.Field(i), s.Field(i), d.Field(i))
			}

			return
		}

		if !reflect.DeepEqual(s.Interface(), d.Interface()) {
			t.Set(s)
		}
	}

	overlay(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem(), reflect.ValueOf(defaults).Elem())
}

// loadConfigFromFile loads configuration from a JSON or YAML file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Storage.Path = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "log-format":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Format = str
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "schema-dir":
			if str, ok := value.(string); ok && str != "" {
				config.DDMS.SchemaDir = str
			}
		case "search-url":
			if str, ok := value.(string); ok && str != "" {
				config.Search.Addresses = strings.Split(str, ",")
			}
		case "blob-endpoint":
			if str, ok := value.(string); ok && str != "" {
				config.Blob.Endpoint = str
			}
		case "batch-size":
			if n, ok := value.(int); ok && n > 0 {
				config.Query.BatchSize = n
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// field names in errors follow the config file keys
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})

	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	return v
}

// validateConfig checks the validate tags and reports the first violation
// as "invalid <section.key>: <value> (<rule>)"
func validateConfig(config *Config) error {
	config.Logging.Level = strings.ToLower(config.Logging.Level)
	config.Logging.Format = strings.ToLower(config.Logging.Format)
	config.Logging.Output = strings.ToLower(config.Logging.Output)

	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	fe := fieldErrs[0]
	key := strings.TrimPrefix(fe.Namespace(), "Config.")

	return fmt.Errorf("invalid %s: %v (%s)", key, fe.Value(), ruleText(fe))
}

func ruleText(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "needs at least " + fe.Param() + " entries"
	case "duration":
		return "must be a duration such as 30s"
	case "url":
		return "must be a URL"
	case "required":
		return "must not be empty"
	default:
		return "failed " + fe.Tag()
	}
}

// EffectiveWorkers resolves the worker count, defaulting to min(32, NumCPU+4)
func (q QueryConfig) EffectiveWorkers() int {
	if q.Workers > 0 {
		return q.Workers
	}

	return DefaultWorkers()
}

// DefaultWorkers returns min(32, NumCPU+4)
func DefaultWorkers() int {
	return min(maxWorkers, runtime.NumCPU()+4)
}

// Duration parses a duration field, falling back when it is empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return d
}

// SaveConfig writes config to the config file and returns its path.
// Secrets are not serialized and stay in the environment.
func SaveConfig(config *Config) (string, error) {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/rafs-ddms"
	}

	return filepath.Join(homeDir, ".config", "rafs-ddms")
}
