package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TEACHABLE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadyMessage    string        `mapstructure:"ready_message"`
}

// ModelConfig locates the model directory. The directory holds the metadata
// descriptor and the ONNX graph with its weights.
type ModelConfig struct {
	Dir          string `mapstructure:"dir"`
	MetadataFile string `mapstructure:"metadata_file"`
	GraphFile    string `mapstructure:"graph_file"`
	LibraryPath  string `mapstructure:"library_path"`
	IntraThreads int    `mapstructure:"intra_threads"`
}

type UploadConfig struct {
	MaxSize int64  `mapstructure:"max_size"`
	Field   string `mapstructure:"field"`
}

type PreprocessConfig struct {
	Size        int    `mapstructure:"size"`
	Fit         string `mapstructure:"fit"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	AutoOrient  bool   `mapstructure:"auto_orient"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Server.Port, ":")
}

// Load reads configuration from an optional YAML file and the environment.
// A missing file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "PORT"); err != nil {
		return nil, fmt.Errorf("failed to bind PORT: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	if c.Preprocess.Size <= 0 {
		return fmt.Errorf("preprocess.size must be positive, got %d", c.Preprocess.Size)
	}
	switch c.Preprocess.Fit {
	case "cover", "stretch":
	default:
		return fmt.Errorf("preprocess.fit must be cover or stretch, got %q", c.Preprocess.Fit)
	}
	if c.Preprocess.JPEGQuality < 1 || c.Preprocess.JPEGQuality > 100 {
		return fmt.Errorf("preprocess.jpeg_quality must be in [1,100], got %d", c.Preprocess.JPEGQuality)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.ready_message", d.Server.ReadyMessage)

	v.SetDefault("model.dir", d.Model.Dir)
	v.SetDefault("model.metadata_file", d.Model.MetadataFile)
	v.SetDefault("model.graph_file", d.Model.GraphFile)
	v.SetDefault("model.library_path", d.Model.LibraryPath)
	v.SetDefault("model.intra_threads", d.Model.IntraThreads)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.field", d.Upload.Field)

	v.SetDefault("preprocess.size", d.Preprocess.Size)
	v.SetDefault("preprocess.fit", d.Preprocess.Fit)
	v.SetDefault("preprocess.jpeg_quality", d.Preprocess.JPEGQuality)
	v.SetDefault("preprocess.auto_orient", d.Preprocess.AutoOrient)

	v.SetDefault("log.level", d.Log.Level)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "10000",
			Mode:            "release",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 10 * time.Second,
			ReadyMessage:    "Teachable backend ready",
		},
		Model: ModelConfig{
			Dir:          "./model",
			MetadataFile: "model.json",
			GraphFile:    "model.onnx",
		},
		Upload: UploadConfig{
			MaxSize: 5 * 1024 * 1024,
			Field:   "image",
		},
		Preprocess: PreprocessConfig{
			Size:        224,
			Fit:         "cover",
			JPEGQuality: 80,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
