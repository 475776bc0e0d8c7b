package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/storage"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`

	// sqlite
	Path string `mapstructure:"path" validate:"required_if=Driver sqlite"`

	// postgres; URL wins over the discrete fields when set
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// BatchSize is the number of rows per INSERT statement in bulk writes.
	BatchSize int    `mapstructure:"batch_size" validate:"min=1,max=5000"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=silent error warn info"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"omitempty,oneof=s3 r2 s3compatible http local"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	// BaseURL is the prefix archive keys are appended to for the http backend.
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// LocalDir roots the local backend.
	LocalDir string `mapstructure:"local_dir"`
}

type WorkerConfig struct {
	Workers           int             `mapstructure:"workers" validate:"min=1,max=256"`
	QueueSize         int             `mapstructure:"queue_size" validate:"min=1"`
	HeartbeatInterval time.Duration   `mapstructure:"heartbeat_interval" validate:"gt=0"`
	JobTimeout        time.Duration   `mapstructure:"job_timeout" validate:"gt=0"`
	StaleAfter        time.Duration   `mapstructure:"stale_after" validate:"gtfield=HeartbeatInterval"`
	ReapInterval      time.Duration   `mapstructure:"reap_interval" validate:"gt=0"`
	Backoff           []time.Duration `mapstructure:"backoff" validate:"len=3,dive,gt=0"`
	Jitter            float64         `mapstructure:"jitter" validate:"min=0,max=1"`
}

type ExtractConfig struct {
	WorkDir       string `mapstructure:"work_dir"`
	MaxEntryBytes int64  `mapstructure:"max_entry_bytes" validate:"min=1"`
	MaxTotalBytes int64  `mapstructure:"max_total_bytes" validate:"gtefield=MaxEntryBytes"`
	MaxEntries    int    `mapstructure:"max_entries" validate:"min=1"`
	MaxDepth      int    `mapstructure:"max_depth" validate:"min=1"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}

// Load reads configuration from configPath (or ./configs/config.yaml),
// .env and the environment, then validates it.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment specifics
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("storage.type", "STORAGE_TYPE")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.token", "STORAGE_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/confingest.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.batch_size", 500)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "config-archives")
	v.SetDefault("storage.timeout", 5*time.Minute)
	v.SetDefault("storage.local_dir", "./data/archives")

	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.heartbeat_interval", 30*time.Second)
	v.SetDefault("worker.job_timeout", time.Hour)
	v.SetDefault("worker.stale_after", 5*time.Minute)
	v.SetDefault("worker.reap_interval", time.Minute)
	v.SetDefault("worker.backoff", []time.Duration{60 * time.Second, 180 * time.Second, 600 * time.Second})
	v.SetDefault("worker.jitter", 0.2)

	limits := archive.DefaultLimits()
	v.SetDefault("extract.work_dir", "")
	v.SetDefault("extract.max_entry_bytes", limits.MaxEntryBytes)
	v.SetDefault("extract.max_total_bytes", limits.MaxTotalBytes)
	v.SetDefault("extract.max_entries", limits.MaxEntries)
	v.SetDefault("extract.max_depth", limits.MaxDepth)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

var validate = validator.New()

// Validate checks field constraints and cross-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" && c.Database.Host == "" {
		return errors.New("invalid config: postgres needs database.url or database.host")
	}
	st := c.GetStorageConfig()
	switch st.Type {
	case storage.TypeHTTP:
		if st.BaseURL == "" {
			return errors.New("invalid config: storage.base_url is required for the http backend")
		}
	case storage.TypeLocal:
		if st.LocalDir == "" {
			return errors.New("invalid config: storage.local_dir is required for the local backend")
		}
	default:
		if st.Bucket == "" || st.Endpoint == "" {
			return errors.New("invalid config: storage.endpoint and storage.bucket are required for S3 backends")
		}
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver != "postgres" {
		return c.Path
	}
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// GetStorageConfig maps the storage section to a storage.Config. An empty
// type is inferred: a base URL means http, an endpoint means an S3 flavour
// detected from the host, anything else is the local backend.
func (c *Config) GetStorageConfig() *storage.Config {
	s := c.Storage
	t := storage.Type(s.Type)
	if t == "" {
		switch {
		case s.BaseURL != "":
			t = storage.TypeHTTP
		case s.Endpoint != "":
			t = storage.DetectS3Type(s.Endpoint)
		default:
			t = storage.TypeLocal
		}
	}
	return &storage.Config{
		Type:      t,
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		UseSSL:    s.UseSSL,
		Bucket:    s.Bucket,
		Region:    s.Region,
		BaseURL:   s.BaseURL,
		Token:     s.Token,
		Timeout:   s.Timeout,
		LocalDir:  s.LocalDir,
	}
}

// Limits returns the extraction limits.
func (e ExtractConfig) Limits() archive.Limits {
	return archive.Limits{
		MaxEntryBytes: e.MaxEntryBytes,
		MaxTotalBytes: e.MaxTotalBytes,
		MaxEntries:    e.MaxEntries,
		MaxDepth:      e.MaxDepth,
	}
}
