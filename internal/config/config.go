package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DeliveryConfig points at the video delivery provider (upload storage,
// renditions, timestamped thumbnails).
type DeliveryConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RecognitionConfig points at the remote face recognition service.
type RecognitionConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AnalysisConfig struct {
	WindowSeconds      float64       `yaml:"window_seconds"`
	StrideSeconds      float64       `yaml:"stride_seconds"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollMaxAttempts    int           `yaml:"poll_max_attempts"`
	ConfirmedThreshold float64       `yaml:"confirmed_threshold"`
	TentativeThreshold float64       `yaml:"tentative_threshold"`
	WorkerCount        int           `yaml:"worker_count"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = 30 * time.Second
	}
	if cfg.Recognition.Timeout == 0 {
		cfg.Recognition.Timeout = 30 * time.Second
	}
	if cfg.Recognition.Collection == "" {
		cfg.Recognition.Collection = "children"
	}
	if cfg.Analysis.WindowSeconds == 0 {
		cfg.Analysis.WindowSeconds = 30
	}
	if cfg.Analysis.StrideSeconds == 0 {
		cfg.Analysis.StrideSeconds = 2
	}
	if cfg.Analysis.PollInterval == 0 {
		cfg.Analysis.PollInterval = 30 * time.Second
	}
	if cfg.Analysis.PollMaxAttempts == 0 {
		cfg.Analysis.PollMaxAttempts = 20
	}
	if cfg.Analysis.ConfirmedThreshold == 0 {
		cfg.Analysis.ConfirmedThreshold = 80
	}
	if cfg.Analysis.TentativeThreshold == 0 {
		cfg.Analysis.TentativeThreshold = 60
	}
	if cfg.Analysis.WorkerCount == 0 {
		cfg.Analysis.WorkerCount = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SB_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SB_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SB_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SB_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SB_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SB_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SB_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SB_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SB_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SB_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SB_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SB_DELIVERY_BASE_URL"); v != "" {
		cfg.Delivery.BaseURL = v
	}
	if v := os.Getenv("SB_DELIVERY_API_KEY"); v != "" {
		cfg.Delivery.APIKey = v
	}
	if v := os.Getenv("SB_RECOGNITION_BASE_URL"); v != "" {
		cfg.Recognition.BaseURL = v
	}
	if v := os.Getenv("SB_RECOGNITION_API_KEY"); v != "" {
		cfg.Recognition.APIKey = v
	}
	if v := os.Getenv("SB_RECOGNITION_COLLECTION"); v != "" {
		cfg.Recognition.Collection = v
	}
	if v := os.Getenv("SB_ANALYSIS_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.WorkerCount = n
		}
	}
}
