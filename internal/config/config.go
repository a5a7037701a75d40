package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPHost           string
	HTTPPort           int
	DatabaseURL        string
	ShutdownTimeout    time.Duration
	LogLevel           string
	HTTPRequestTimeout time.Duration
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
}

func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}

func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHEDULING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.addr", "")
	v.SetDefault("http.request_timeout", "10s")
	// Empty database URL selects the in-memory store.
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("shutdown.timeout", "10s")
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("http.host", "SCHEDULING_HTTP_HOST", "HTTP_HOST")
	_ = v.BindEnv("http.port", "SCHEDULING_HTTP_PORT", "HTTP_PORT", "PORT")
	_ = v.BindEnv("http.addr", "SCHEDULING_HTTP_ADDR", "HTTP_ADDR")
	_ = v.BindEnv("http.request_timeout", "SCHEDULING_HTTP_REQUEST_TIMEOUT")
	_ = v.BindEnv("database.url", "SCHEDULING_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("database.max_open_conns", "SCHEDULING_DATABASE_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.max_idle_conns", "SCHEDULING_DATABASE_MAX_IDLE_CONNS")
	_ = v.BindEnv("database.conn_max_lifetime", "SCHEDULING_DATABASE_CONN_MAX_LIFETIME")
	_ = v.BindEnv("database.conn_max_idle_time", "SCHEDULING_DATABASE_CONN_MAX_IDLE_TIME")
	_ = v.BindEnv("shutdown.timeout", "SCHEDULING_SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("log.level", "SCHEDULING_LOG_LEVEL", "LOG_LEVEL")

	timeout, err := time.ParseDuration(v.GetString("shutdown.timeout"))
	if err != nil {
		return Config{}, err
	}

	requestTimeout, err := time.ParseDuration(v.GetString("http.request_timeout"))
	if err != nil {
		return Config{}, err
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		return Config{}, err
	}
	connMaxIdleTime, err := time.ParseDuration(v.GetString("database.conn_max_idle_time"))
	if err != nil {
		return Config{}, err
	}

	if addr := strings.TrimSpace(v.GetString("http.addr")); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err == nil {
			if host != "" {
				v.Set("http.host", host)
			}
			if port, err := strconv.Atoi(portStr); err == nil {
				v.Set("http.port", port)
			}
		}
	}

	return Config{
		HTTPHost:           strings.TrimSpace(v.GetString("http.host")),
		HTTPPort:           v.GetInt("http.port"),
		DatabaseURL:        strings.TrimSpace(v.GetString("database.url")),
		ShutdownTimeout:    timeout,
		LogLevel:           v.GetString("log.level"),
		HTTPRequestTimeout: requestTimeout,
		DBMaxOpenConns:     v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:     v.GetInt("database.max_idle_conns"),
		DBConnMaxLifetime:  connMaxLifetime,
		DBConnMaxIdleTime:  connMaxIdleTime,
	}, nil
}
