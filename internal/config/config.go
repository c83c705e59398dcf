package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Database DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Argon2   Argon2Config
	Ledger   LedgerConfig
	Log      LogConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DBConfig holds database configuration
type DBConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SQLitePath      string
	AutoMigrate     bool
}

// DSN returns the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

// Expiry returns the token lifetime.
func (c JWTConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

type Argon2Config struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

type LedgerConfig struct {
	// LockTimeout bounds how long an operation waits for the account row lock.
	LockTimeout time.Duration
	EventsKey   string
}

type LogConfig struct {
	Level  string
	Format string
}

// AdminConfig seeds the first admin account on startup. Leaving Username
// empty disables the bootstrap.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// Enabled reports whether an admin account should be ensured.
func (c AdminConfig) Enabled() bool {
	return c.Username != ""
}

var envBindings = map[string]string{
	"server.port":            "PORT",
	"server.allowed_origins": "ALLOWED_ORIGINS",

	"database.driver":      "DATABASE_DRIVER",
	"database.host":        "DATABASE_HOST",
	"database.port":        "DATABASE_PORT",
	"database.user":        "DATABASE_USER",
	"database.password":    "DATABASE_PASSWORD",
	"database.name":        "DATABASE_NAME",
	"database.ssl_mode":    "DATABASE_SSL_MODE",
	"database.sqlite_path": "DATABASE_SQLITE_PATH",
	"database.migrate":     "DATABASE_MIGRATE",

	"redis.enabled":  "REDIS_ENABLED",
	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key":   "JWT_SECRET_KEY",
	"jwt.expiry_hours": "JWT_EXPIRY_HOURS",

	"argon2.time":        "ARGON2_TIME",
	"argon2.memory":      "ARGON2_MEMORY",
	"argon2.threads":     "ARGON2_THREADS",
	"argon2.key_length":  "ARGON2_KEY_LENGTH",
	"argon2.salt_length": "ARGON2_SALT_LENGTH",

	"ledger.lock_timeout": "LEDGER_LOCK_TIMEOUT",
	"ledger.events_key":   "LEDGER_EVENTS_KEY",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",

	"admin.username": "ADMIN_USERNAME",
	"admin.email":    "ADMIN_EMAIL",
	"admin.password": "ADMIN_PASSWORD",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "wallet_ledger")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Minute*5)
	v.SetDefault("database.sqlite_path", "wallet_ledger.db")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("argon2.time", 1)
	v.SetDefault("argon2.memory", 64*1024)
	v.SetDefault("argon2.threads", 4)
	v.SetDefault("argon2.key_length", 32)
	v.SetDefault("argon2.salt_length", 16)

	v.SetDefault("ledger.lock_timeout", 5*time.Second)
	v.SetDefault("ledger.events_key", "ledger:events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the given env file (if present) and the
// process environment. Environment variables win over the file.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if file != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
		// .env keys arrive flat (DATABASE_HOST); fold them under the nested
		// names at default priority so the real environment still wins.
		for key, env := range envBindings {
			if flat := strings.ToLower(env); v.InConfig(flat) {
				v.SetDefault(key, v.Get(flat))
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Database: DBConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			AutoMigrate:     v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey:   v.GetString("jwt.secret_key"),
			ExpiryHours: v.GetInt("jwt.expiry_hours"),
		},
		Argon2: Argon2Config{
			Time:       v.GetUint32("argon2.time"),
			Memory:     v.GetUint32("argon2.memory"),
			Threads:    uint8(v.GetUint("argon2.threads")),
			KeyLength:  v.GetUint32("argon2.key_length"),
			SaltLength: v.GetUint32("argon2.salt_length"),
		},
		Ledger: LedgerConfig{
			LockTimeout: v.GetDuration("ledger.lock_timeout"),
			EventsKey:   v.GetString("ledger.events_key"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Admin: AdminConfig{
			Username: v.GetString("admin.username"),
			Email:    v.GetString("admin.email"),
			Password: v.GetString("admin.password"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secret_key is required")
	}
	if c.JWT.ExpiryHours <= 0 {
		return errors.New("jwt.expiry_hours must be positive")
	}
	if c.Ledger.LockTimeout <= 0 {
		return errors.New("ledger.lock_timeout must be positive")
	}
	if c.Argon2.SaltLength == 0 || c.Argon2.KeyLength == 0 || c.Argon2.Threads == 0 {
		return errors.New("argon2 parameters must be positive")
	}
	if c.Admin.Enabled() && (c.Admin.Email == "" || c.Admin.Password == "") {
		return errors.New("admin.email and admin.password are required when admin.username is set")
	}
	return nil
}
