package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Models    ModelsConfig    `mapstructure:"models"`
	Inference InferenceConfig `mapstructure:"inference"`
	Image     ImageConfig     `mapstructure:"image"`
	Diagnosis DiagnosisConfig `mapstructure:"diagnosis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	History   HistoryConfig   `mapstructure:"history"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	StaticDir       string        `mapstructure:"static_dir"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModelsConfig describes the master and the specialists. InputWidth,
// InputHeight and Layout apply to any model that does not set its own.
type ModelsConfig struct {
	ONNXLibraryPath string        `mapstructure:"onnx_library_path"`
	InputWidth      int           `mapstructure:"input_width"`
	InputHeight     int           `mapstructure:"input_height"`
	Layout          string        `mapstructure:"layout"`
	Master          ModelConfig   `mapstructure:"master"`
	Specialists     []ModelConfig `mapstructure:"specialists"`
}

type ModelConfig struct {
	Key         string   `mapstructure:"key"`
	Name        string   `mapstructure:"name"`
	Path        string   `mapstructure:"path"`
	Classes     []string `mapstructure:"classes"`
	ClassesFile string   `mapstructure:"classes_file"`
	InputWidth  int      `mapstructure:"input_width"`
	InputHeight int      `mapstructure:"input_height"`
	Layout      string   `mapstructure:"layout"`
	Softmax     bool     `mapstructure:"softmax"`
	InputName   string   `mapstructure:"input_name"`
	OutputName  string   `mapstructure:"output_name"`
}

type InferenceConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type ImageConfig struct {
	MaxPixels int64 `mapstructure:"max_pixels"`
}

type DiagnosisConfig struct {
	RecordsFile string `mapstructure:"records_file"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
	AdminName     string        `mapstructure:"admin_name"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

type HistoryConfig struct {
	Driver     string      `mapstructure:"driver"`
	MaxEntries int         `mapstructure:"max_entries"`
	SQLitePath string      `mapstructure:"sqlite_path"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps"`
	Burst             int     `mapstructure:"burst"`
}

// Load reads configuration from a .env file, the config file and
// CATTLECARE_* environment variables, in increasing precedence. An empty
// path searches the default locations; a missing file there is not an
// error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cattlecare/")
	}

	v.SetEnvPrefix("CATTLECARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("models.onnx_library_path", "")
	v.SetDefault("models.input_width", 224)
	v.SetDefault("models.input_height", 224)
	v.SetDefault("models.layout", "nhwc")
	v.SetDefault("models.master.key", "master")
	v.SetDefault("models.master.name", "Master Body Part Router")
	v.SetDefault("models.master.path", "models/master_model.onnx")
	v.SetDefault("models.master.classes_file", "models/master_class_indices.json")
	v.SetDefault("models.master.classes", []string{"foot", "general_body", "non_cattle", "tongue", "udder"})
	v.SetDefault("models.specialists", []map[string]any{
		{
			"key":     "general_body",
			"name":    "Cattle Disease Classifier",
			"path":    "models/cattle_3class_classifier.onnx",
			"classes": []string{"Lumpy Skin Disease", "Not Cattle", "Healthy Cow"},
		},
		{
			"key":          "foot",
			"name":         "Footrot (FMD) Classifier",
			"path":         "models/footrot_mobilenet_final_model.onnx",
			"classes_file": "models/footrot_class_indices.json",
		},
		{
			"key":     "udder",
			"name":    "Udder Health Classifier",
			"path":    "models/cattle_udder_mobilenet_model.onnx",
			"classes": []string{"NON CATTLE IMAGES", "mastitis teats", "normal teats"},
		},
		{
			"key":          "tongue",
			"name":         "Tongue Disease Classifier",
			"path":         "models/tongue_classification_mobilenetv2.onnx",
			"classes_file": "models/tongue_model_config.json",
		},
	})

	v.SetDefault("inference.max_concurrent", 4)
	v.SetDefault("inference.timeout", "30s")
	v.SetDefault("inference.cache_size", 256)
	v.SetDefault("inference.cache_ttl", "10m")

	v.SetDefault("image.max_pixels", 40_000_000)

	v.SetDefault("diagnosis.records_file", "")

	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.admin_email", "admin@cattle.com")
	v.SetDefault("auth.admin_password", "admin123")
	v.SetDefault("auth.admin_name", "Admin User")
	v.SetDefault("auth.bcrypt_cost", 0)

	v.SetDefault("history.driver", "memory")
	v.SetDefault("history.max_entries", 10000)
	v.SetDefault("history.sqlite_path", "cattle_care.db")
	v.SetDefault("history.redis.addr", "localhost:6379")
	v.SetDefault("history.redis.username", "")
	v.SetDefault("history.redis.password", "")
	v.SetDefault("history.redis.db", 0)
	v.SetDefault("history.redis.prefix", "cattlecare:history:")

	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
}

// Validate checks the configuration for values the service cannot run
// with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Models.Master.Path == "" {
		return fmt.Errorf("master model path is required")
	}
	if err := validLayout(c.Models.Layout); err != nil {
		return err
	}
	seen := map[string]bool{c.masterKey(): true}
	for i, s := range c.Models.Specialists {
		switch {
		case s.Key == "":
			return fmt.Errorf("specialist %d has no key", i)
		case s.Key == nonCattle:
			return fmt.Errorf("specialist key %q is reserved", s.Key)
		case seen[s.Key]:
			return fmt.Errorf("duplicate model key %q", s.Key)
		case s.Path == "":
			return fmt.Errorf("specialist %q has no path", s.Key)
		}
		if err := validLayout(s.Layout); err != nil {
			return fmt.Errorf("specialist %q: %w", s.Key, err)
		}
		seen[s.Key] = true
	}

	if c.Inference.MaxConcurrent < 0 {
		return fmt.Errorf("inference.max_concurrent must not be negative")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.History.Driver {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported history driver: %s", c.History.Driver)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	return nil
}

func validLayout(layout string) error {
	switch strings.ToLower(layout) {
	case "", "nhwc", "nchw":
		return nil
	default:
		return fmt.Errorf("unsupported tensor layout: %s", layout)
	}
}
