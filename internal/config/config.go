package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string            `mapstructure:"env"`
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Session     SessionConfig     `mapstructure:"session"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Spaces      SpacesConfig      `mapstructure:"spaces"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type CameraConfig struct {
	Model        string `mapstructure:"model"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// CaptureConfig holds the alarm debounce and the snapshot debounce
// separately; neither is derived from the other.
type CaptureConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	Retries          int           `mapstructure:"retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	ProcessTimeout   time.Duration `mapstructure:"process_timeout"`
	AlarmCooldown    time.Duration `mapstructure:"alarm_cooldown"`
	SnapshotCooldown time.Duration `mapstructure:"snapshot_cooldown"`
}

type SessionConfig struct {
	MinDuration    time.Duration `mapstructure:"min_duration"`
	CloseLock      time.Duration `mapstructure:"close_lock"`
	ConflictLock   time.Duration `mapstructure:"conflict_lock"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	MinPlateLength int           `mapstructure:"min_plate_length"`
}

type RecognitionConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Engine  string        `mapstructure:"engine"`
}

type SpacesConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Key             string `mapstructure:"key"`
	Secret          string `mapstructure:"secret"`
	OriginalPrefix  string `mapstructure:"original_prefix"`
	ProcessedPrefix string `mapstructure:"processed_prefix"`
	IssuePrefix     string `mapstructure:"issue_prefix"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("camera.model", "hikvision")
	v.SetDefault("camera.username", "admin")
	v.SetDefault("camera.password", "")
	v.SetDefault("camera.snapshot_path", "/ISAPI/Streaming/channels/101/picture")

	v.SetDefault("capture.max_concurrent", 2)
	v.SetDefault("capture.retries", 2)
	v.SetDefault("capture.backoff_base", 200*time.Millisecond)
	v.SetDefault("capture.fetch_timeout", 5*time.Second)
	v.SetDefault("capture.process_timeout", 30*time.Second)
	v.SetDefault("capture.alarm_cooldown", 3*time.Second)
	v.SetDefault("capture.snapshot_cooldown", 3*time.Second)

	v.SetDefault("session.min_duration", 60*time.Second)
	v.SetDefault("session.close_lock", 60*time.Second)
	v.SetDefault("session.conflict_lock", 30*time.Second)
	v.SetDefault("session.timeout", 10*time.Minute)
	v.SetDefault("session.reap_interval", time.Minute)
	v.SetDefault("session.min_plate_length", 2)

	v.SetDefault("recognition.url", "http://localhost:8000")
	v.SetDefault("recognition.timeout", 10*time.Second)
	v.SetDefault("recognition.engine", "yolo")

	v.SetDefault("spaces.endpoint", "")
	v.SetDefault("spaces.region", "sgp1")
	v.SetDefault("spaces.bucket", "")
	v.SetDefault("spaces.key", "")
	v.SetDefault("spaces.secret", "")
	v.SetDefault("spaces.original_prefix", "ocr/subId/original")
	v.SetDefault("spaces.processed_prefix", "ocr/subId/processed")
	v.SetDefault("spaces.issue_prefix", "ocr/subId/issue")

	v.SetDefault("nats.url", "")
	v.SetDefault("auth.jwt_secret", "")
}

// Load reads configuration from the optional file at path and from ANPR_*
// environment variables, e.g. ANPR_DATABASE_DSN or ANPR_SESSION_CLOSE_LOCK.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Capture.MaxConcurrent < 1 {
		return fmt.Errorf("capture.max_concurrent must be at least 1")
	}
	if c.Capture.Retries < 1 {
		return fmt.Errorf("capture.retries must be at least 1")
	}
	if c.Session.ReapInterval <= 0 {
		return fmt.Errorf("session.reap_interval must be positive")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if c.Session.MinDuration < 0 || c.Session.CloseLock < 0 || c.Session.ConflictLock < 0 {
		return fmt.Errorf("session windows must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
