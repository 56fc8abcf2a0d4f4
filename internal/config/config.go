package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	Store    string // memory | postgres | redis
	DB       DB
	RedisURL string
	NATSURL  string

	HostTokenSecret string
	HostTokenTTL    time.Duration
	GMUser          string
	GMPass          string
	PublicURL       string

	ExportEnabled bool
	ExportFile    string
	GameConfig    string
	Retention     time.Duration
}

// DB holds Postgres connection settings.
type DB struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.LogLevel = getenv("LOG_LEVEL", "info")
	c.Store = getenv("STORE", "memory")
	c.DB = DB{
		Host:     getenv("DB_HOST", "localhost"),
		Port:     getint("DB_PORT", 5432),
		User:     getenv("DB_USER", "postgres"),
		Password: getenv("DB_PASSWORD", "postgres"),
		Database: getenv("DB_NAME", "quizdash"),
		SSLMode:  getenv("DB_SSLMODE", "disable"),
	}
	c.RedisURL = getenv("REDIS_URL", "redis://localhost:6379/0")
	c.NATSURL = os.Getenv("NATS_URL")
	c.HostTokenSecret = os.Getenv("HOST_TOKEN_SECRET")
	c.HostTokenTTL = getduration("HOST_TOKEN_TTL", 12*time.Hour)
	c.GMUser = os.Getenv("GM_USER")
	c.GMPass = os.Getenv("GM_PASS")
	c.PublicURL = getenv("PUBLIC_URL", "http://localhost:"+c.Port)
	c.ExportEnabled = getenv("EXPORT_ENABLED", "true") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./quizdash-results.txt")
	c.GameConfig = os.Getenv("GAME_CONFIG")
	c.Retention = getduration("SESSION_RETENTION", 30*time.Minute)
	return c
}

// DSN returns the Postgres connection URL.
func (d DB) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return n
}

func getduration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return d
}
