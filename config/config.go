package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when the object store credentials are not set
var ErrMissingCredentials = errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")

const (
	// DatabaseFile is the store file name inside the working directory
	DatabaseFile = "hattivatti.db"

	// SchemaRoot is the root JSON schema file name inside the schema directory
	SchemaRoot = "api.json"
)

// Config holds the application configuration
type Config struct {
	// Object store (Allas)
	Endpoint        string `yaml:"endpoint" validate:"required,url"`
	Region          string `yaml:"region" validate:"required"`
	Namespace       string `yaml:"namespace" validate:"oneof=dev test prod"`
	Prefix          string `yaml:"prefix" validate:"required"`
	AccessKeyID     string `yaml:"-" validate:"required"`
	SecretAccessKey string `yaml:"-" validate:"required"`

	// Scheduler and job templates
	SbatchPath  string `yaml:"sbatch_path" validate:"required"`
	JobTime     string `yaml:"job_time" validate:"required"`
	PgscCalcDir string `yaml:"pgsc_calc_dir" validate:"required,startswith=/"`
	GlobusPath  string `yaml:"globus_path" validate:"required,startswith=/"`

	// Invocation, set from CLI flags
	SchemaDir string `yaml:"-" validate:"required"`
	WorkDir   string `yaml:"-" validate:"required"`
	DryRun    bool   `yaml:"-"`

	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns the configuration used when no file or environment overrides it
func Default() *Config {
	return &Config{
		Endpoint:    "https://a3s.fi",
		Region:      "regionOne",
		Namespace:   "dev",
		Prefix:      "job-queue",
		SbatchPath:  "sbatch",
		JobTime:     "01:00:00",
		PgscCalcDir: "/scratch/project_2004504/pgsc_calc/",
		GlobusPath:  "/scratch/project_2004504/globus-file-handler-cli/globus-file-handler-cli.jar",
		LogLevel:    "info",
	}
}

// Load loads configuration from defaults, an optional YAML file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.LogLevel = getEnv("HATTIVATTI_LOG", cfg.LogLevel)

	return cfg, nil
}

// Validate checks the configuration after CLI flags have been applied
func (c *Config) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return ErrMissingCredentials
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Bucket returns the job queue bucket for the configured namespace
func (c *Config) Bucket() string {
	return "intervene-" + c.Namespace
}

// DatabasePath returns the store file location inside the working directory
func (c *Config) DatabasePath() string {
	return filepath.Join(c.WorkDir, DatabaseFile)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
