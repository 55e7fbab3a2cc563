package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Processing ProcessingConfig `yaml:"processing"`
	Rembg      RembgConfig      `yaml:"rembg"`
	Scratch    ScratchConfig    `yaml:"scratch"`
	Minio      MinioConfig      `yaml:"minio"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type ProcessingConfig struct {
	MaxFileSizeMB int      `yaml:"max_file_size_mb"`
	MaxBatchFiles int      `yaml:"max_batch_files"`
	DefaultModel  string   `yaml:"default_model"`
	AllowedExts   []string `yaml:"allowed_extensions"`
	// MaxImageDim is the hard reject limit; images above
	// ProcessingDim are downscaled before inference.
	MaxImageDim   int  `yaml:"max_image_dim"`
	ProcessingDim int  `yaml:"processing_dim"`
	UseGPU        bool `yaml:"use_gpu"`
}

type RembgConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ScratchConfig struct {
	Dir              string `yaml:"dir"`
	OutputDir        string `yaml:"output_dir"`
	RetentionMinutes int    `yaml:"retention_minutes"`
	SweepSpec        string `yaml:"sweep_spec"`
	MaxOutputs       int    `yaml:"max_outputs"`
}

type MinioConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	ExpireHours int    `yaml:"expire_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No config file: run on defaults and environment only.
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Processing.MaxFileSizeMB == 0 {
		cfg.Processing.MaxFileSizeMB = 10
	}
	if cfg.Processing.MaxBatchFiles == 0 {
		cfg.Processing.MaxBatchFiles = 5
	}
	if cfg.Processing.DefaultModel == "" {
		cfg.Processing.DefaultModel = "u2net"
	}
	if len(cfg.Processing.AllowedExts) == 0 {
		cfg.Processing.AllowedExts = []string{"jpg", "jpeg", "png", "webp"}
	}
	if cfg.Processing.MaxImageDim == 0 {
		cfg.Processing.MaxImageDim = 4096
	}
	if cfg.Processing.ProcessingDim == 0 {
		cfg.Processing.ProcessingDim = 2048
	}
	if cfg.Rembg.Endpoint == "" {
		cfg.Rembg.Endpoint = "http://127.0.0.1:7000"
	}
	if cfg.Rembg.TimeoutSeconds == 0 {
		cfg.Rembg.TimeoutSeconds = 30
	}
	if cfg.Scratch.Dir == "" {
		cfg.Scratch.Dir = "uploads"
	}
	if cfg.Scratch.OutputDir == "" {
		cfg.Scratch.OutputDir = "outputs"
	}
	if cfg.Scratch.RetentionMinutes == 0 {
		cfg.Scratch.RetentionMinutes = 60
	}
	if cfg.Scratch.SweepSpec == "" {
		cfg.Scratch.SweepSpec = "@hourly"
	}
	if cfg.Scratch.MaxOutputs == 0 {
		cfg.Scratch.MaxOutputs = 100
	}
	if cfg.Minio.ExpireHours == 0 {
		cfg.Minio.ExpireHours = 1
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployment environments override a few keys
// without editing the yaml file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REMBG_ENDPOINT"); v != "" {
		cfg.Rembg.Endpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("USE_GPU"); v != "" {
		cfg.Processing.UseGPU = v == "1" || v == "true"
	}
}

// Validate fails fast on values that would otherwise only blow up
// at first use.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Processing.MaxFileSizeMB < 1 {
		return fmt.Errorf("invalid max_file_size_mb: %d", c.Processing.MaxFileSizeMB)
	}
	if c.Processing.MaxBatchFiles < 1 {
		return fmt.Errorf("invalid max_batch_files: %d", c.Processing.MaxBatchFiles)
	}
	if c.Rembg.TimeoutSeconds < 1 {
		return fmt.Errorf("invalid rembg timeout_seconds: %d", c.Rembg.TimeoutSeconds)
	}
	if c.Minio.Enabled {
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("minio enabled but endpoint or bucket missing")
		}
	}
	return nil
}

// MaxFileSizeBytes returns the upload size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Processing.MaxFileSizeMB) << 20
}
