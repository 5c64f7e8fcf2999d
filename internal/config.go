package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/entbrowser/internal/jobs"
)

// DBStoreEnv overrides data.registry_file when set.
const DBStoreEnv = "ENTBROWSER_DB_STORE"

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Data    DataConfig        `yaml:"data"`
	Jobs    JobsConfig        `yaml:"jobs"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	return c.Jobs.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel    slog.Level `yaml:"log_level"`
	HTTP        HTTPConfig `yaml:"http"`
	CORSOrigins []string   `yaml:"cors_origins"`
	StaticDir   string     `yaml:"static_dir"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.CORSOrigins, validation.Each(validation.Required)),
	)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DataConfig holds the data directory layout. RegistryFile is relative to
// Dir unless absolute.
type DataConfig struct {
	Dir          string `yaml:"dir"`
	RegistryFile string `yaml:"registry_file"`
}

// Validate validates the data configuration.
func (c *DataConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.RegistryFile, validation.Required),
	)
}

// RegistryPath returns the directory holding the registry file and the
// file name within it.
func (c *DataConfig) RegistryPath() (dir, file string) {
	if filepath.IsAbs(c.RegistryFile) {
		return filepath.Dir(c.RegistryFile), filepath.Base(c.RegistryFile)
	}
	return c.Dir, c.RegistryFile
}

// JobsConfig bounds background job execution.
type JobsConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"`
	Retain        int   `yaml:"retain"`
}

// Validate validates the jobs configuration.
func (c *JobsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrent, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Retain, validation.Required, validation.Min(1)),
	)
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ApplyEnv applies environment overrides that take precedence over the
// config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(DBStoreEnv); v != "" {
		c.Data.RegistryFile = v
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Data: DataConfig{
			Dir:          "./data",
			RegistryFile: "databases.json",
		},
		Jobs: JobsConfig{
			MaxConcurrent: jobs.DefaultMaxConcurrent,
			Retain:        jobs.DefaultRetain,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
