package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration. Values come from defaults, then an
// optional YAML file (FACEMARK_CONFIG), then environment variables.
type App struct {
	Env             string        `yaml:"env"`
	HTTPPort        string        `yaml:"http_port"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	DatabaseDriver  string        `yaml:"database_driver"`
	DatabaseURL     string        `yaml:"database_url"`
	RedisAddr       string        `yaml:"redis_addr"`
	QueueBackend    string        `yaml:"queue_backend"`
	QueueKey        string        `yaml:"queue_key"`
	NATSURL         string        `yaml:"nats_url"`
	FaceServiceURL  string        `yaml:"face_service_url"`
	FaceSkip        bool          `yaml:"face_skip"`
	FaceTimeout     time.Duration `yaml:"face_timeout"`
	EncodingDim     int           `yaml:"encoding_dim"`
	Tolerance       float64       `yaml:"tolerance"`
	TimeZone        string        `yaml:"time_zone"`
	ImageBackend    string        `yaml:"image_backend"`
	UploadDir       string        `yaml:"upload_dir"`
	MaxUploadMB     int           `yaml:"max_upload_mb"`
	MinIO           MinIO         `yaml:"minio"`
	Cloudinary      Cloudinary    `yaml:"cloudinary"`
	AuthEnabled     bool          `yaml:"auth_enabled"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	AccessTTL       time.Duration `yaml:"access_ttl"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// MinIO configures the S3-compatible image backend.
type MinIO struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Cloudinary configures the hosted image backend.
type Cloudinary struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Folder    string `yaml:"folder"`
}

// Default returns the built-in configuration.
func Default() App {
	return App{
		Env:             "dev",
		HTTPPort:        "8081",
		LogLevel:        "info",
		LogFormat:       "text",
		DatabaseDriver:  "sqlite",
		DatabaseURL:     "file:data/facemark.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		RedisAddr:       "localhost:6379",
		QueueBackend:    "memory",
		QueueKey:        "facemark:roster",
		NATSURL:         "nats://localhost:4222",
		FaceServiceURL:  "http://localhost:8000",
		FaceSkip:        false,
		FaceTimeout:     30 * time.Second,
		EncodingDim:     128,
		Tolerance:       0.5,
		TimeZone:        "Local",
		ImageBackend:    "local",
		UploadDir:       "data/uploads",
		MaxUploadMB:     16,
		MinIO:           MinIO{Bucket: "facemark"},
		Cloudinary:      Cloudinary{Folder: "facemark"},
		JWTIssuer:       "facemark",
		JWTSigningKey:   "dev-signing-secret-change",
		AccessTTL:       12 * time.Hour,
		RateLimitPerMin: 240,
		CORSOrigins:     []string{"*"},
	}
}

// Load returns application config populated from defaults, the optional
// FACEMARK_CONFIG YAML file and environment variables, in that order.
func Load() (App, error) {
	cfg := Default()
	if path := os.Getenv("FACEMARK_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return App{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *App) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *App) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.QueueKey = getEnv("QUEUE_KEY", cfg.QueueKey)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.FaceServiceURL = getEnv("FACE_SERVICE_URL", cfg.FaceServiceURL)
	cfg.FaceSkip = boolEnv("FACE_SKIP", cfg.FaceSkip)
	cfg.FaceTimeout = durationEnv("FACE_TIMEOUT", cfg.FaceTimeout)
	cfg.EncodingDim = intEnv("ENCODING_DIM", cfg.EncodingDim)
	cfg.Tolerance = floatEnv("MATCH_TOLERANCE", cfg.Tolerance)
	cfg.TimeZone = getEnv("ATTENDANCE_TZ", cfg.TimeZone)
	cfg.ImageBackend = getEnv("IMAGE_BACKEND", cfg.ImageBackend)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.MaxUploadMB = intEnv("MAX_UPLOAD_MB", cfg.MaxUploadMB)
	cfg.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = getEnv("MINIO_BUCKET", cfg.MinIO.Bucket)
	cfg.MinIO.UseSSL = boolEnv("MINIO_USE_SSL", cfg.MinIO.UseSSL)
	cfg.Cloudinary.CloudName = getEnv("CLOUDINARY_CLOUD_NAME", cfg.Cloudinary.CloudName)
	cfg.Cloudinary.APIKey = getEnv("CLOUDINARY_API_KEY", cfg.Cloudinary.APIKey)
	cfg.Cloudinary.APISecret = getEnv("CLOUDINARY_API_SECRET", cfg.Cloudinary.APISecret)
	cfg.Cloudinary.Folder = getEnv("CLOUDINARY_FOLDER", cfg.Cloudinary.Folder)
	cfg.AuthEnabled = boolEnv("AUTH_ENABLED", cfg.AuthEnabled)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSigningKey = getEnv("JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.AccessTTL = durationEnv("ACCESS_TTL", cfg.AccessTTL)
	cfg.RateLimitPerMin = intEnv("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
}

// Validate rejects settings the service cannot start with.
func (a App) Validate() error {
	var errs []error
	if a.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("tolerance must be positive, got %v", a.Tolerance))
	}
	switch a.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", a.DatabaseDriver))
	}
	switch a.QueueBackend {
	case "memory", "redis", "nats":
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", a.QueueBackend))
	}
	switch a.ImageBackend {
	case "local", "minio", "cloudinary":
	default:
		errs = append(errs, fmt.Errorf("unknown image backend %q", a.ImageBackend))
	}
	if a.EncodingDim < 0 {
		errs = append(errs, fmt.Errorf("encoding dimension must not be negative"))
	}
	if _, err := a.Location(); err != nil {
		errs = append(errs, err)
	}
	for _, o := range a.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("cors origin %q must be * or start with http:// or https://", o))
		}
	}
	return errors.Join(errs...)
}

// Location resolves TimeZone; attendance days are computed in it.
func (a App) Location() (*time.Location, error) {
	if a.TimeZone == "" || a.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", a.TimeZone, err)
	}
	return loc, nil
}

// Production reports whether the service runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("invalid duration, using fallback", "key", key, "error", err, "fallback", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			slog.Warn("invalid bool, using fallback", "key", key, "fallback", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			slog.Warn("invalid int, using fallback", "key", key, "fallback", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			slog.Warn("invalid float, using fallback", "key", key, "fallback", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
