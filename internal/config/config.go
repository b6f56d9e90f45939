// Package config loads the server configuration from the environment,
// optional .env files and command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/spf13/viper"

	"github.com/harrylevesque/storeapi/internal/utils"
)

const (
	// DefaultReconnectDelay is the fixed delay between a connection
	// failure and the next connection attempt.
	DefaultReconnectDelay = 5 * time.Second

	DefaultPingInterval    = 10 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultServerPort      = "8080"

	// MinDuration is the shortest reconnect delay or ping interval
	// accepted.
	MinDuration = 100 * time.Millisecond
)

// Config holds everything the server needs at startup. It is built once
// and passed by reference to the components that need it.
type Config struct {
	// Database
	NoSQLUser     string
	NoSQLPassword string
	NoSQLHost     string
	NoSQLTable    string
	NoSQLTLS      bool
	NoSQLCADir    string

	// Connection supervision
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	DialTimeout    time.Duration

	// HTTP
	AccessToken     string
	ServerPort      string
	BaseURL         string
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

// New returns a viper instance with defaults set and environment
// variables bound. Flags may be bound on top of it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", DefaultServerPort)
	v.SetDefault("RECONNECT_DELAY", DefaultReconnectDelay.String())
	v.SetDefault("PING_INTERVAL", DefaultPingInterval.String())
	v.SetDefault("DIAL_TIMEOUT", DefaultDialTimeout.String())
	v.SetDefault("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout.String())
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("NOSQL_TLS", false)
	return v
}

// LoadEnvFiles loads .env files into the process environment. Files are
// looked up in the working directory and then the project root; values
// already present in the environment are never overwritten. A missing
// file is skipped, a malformed one is an error.
func LoadEnvFiles(names ...string) error {
	if len(names) == 0 {
		names = []string{".env", ".env.local"}
	}
	root := utils.GetProjectRoot()
	for _, name := range names {
		candidates := []string{name}
		if !filepath.IsAbs(name) {
			candidates = append(candidates, filepath.Join(root, name))
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := godotenv.Load(path); err != nil {
				return errors.Annotatef(err, "loading %s", path)
			}
			break
		}
	}
	return nil
}

// durationKeys are read by duration. A bare number is taken as
// milliseconds, so RECONNECT_DELAY=5000 means five seconds.
var durationKeys = []string{"RECONNECT_DELAY", "PING_INTERVAL", "DIAL_TIMEOUT", "SHUTDOWN_TIMEOUT"}

func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.NotValidf("%s %q", key, raw)
	}
	return d, nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	durations := make(map[string]time.Duration, len(durationKeys))
	for _, key := range durationKeys {
		d, err := getDuration(v, key)
		if err != nil {
			return nil, errors.Trace(err)
		}
		durations[key] = d
	}
	cfg := &Config{
		NoSQLUser:     v.GetString("NOSQL_USER"),
		NoSQLPassword: v.GetString("NOSQL_PWD"),
		NoSQLHost:     v.GetString("NOSQL_HOST"),
		NoSQLTable:    v.GetString("NOSQL_TABLE"),
		NoSQLTLS:      v.GetBool("NOSQL_TLS"),
		NoSQLCADir:    v.GetString("NOSQL_CA_DIR"),

		ReconnectDelay: durations["RECONNECT_DELAY"],
		PingInterval:   durations["PING_INTERVAL"],
		DialTimeout:    durations["DIAL_TIMEOUT"],

		AccessToken:     v.GetString("ACCESS_TOKEN"),
		ServerPort:      v.GetString("SERVER_PORT"),
		BaseURL:         v.GetString("BASE_URL"),
		ShutdownTimeout: durations["SHUTDOWN_TIMEOUT"],

		LogLevel: v.GetString("LOG_LEVEL"),
		LogFile:  v.GetString("LOG_FILE"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate returns an error if the config cannot drive the server.
func (c *Config) Validate() error {
	if c.NoSQLHost == "" {
		return errors.NotValidf("empty NOSQL_HOST")
	}
	if c.NoSQLTable == "" {
		return errors.NotValidf("empty NOSQL_TABLE")
	}
	if c.AccessToken == "" {
		return errors.NotValidf("empty ACCESS_TOKEN")
	}
	if c.ServerPort == "" {
		return errors.NotValidf("empty SERVER_PORT")
	}
	if c.ReconnectDelay <= 0 {
		return errors.NotValidf("reconnect delay %v", c.ReconnectDelay)
	}
	if c.PingInterval < 0 {
		return errors.NotValidf("ping interval %v", c.PingInterval)
	}
	if c.DialTimeout <= 0 {
		return errors.NotValidf("dial timeout %v", c.DialTimeout)
	}
	if c.ReconnectDelay < MinDuration {
		return errors.NotValidf("reconnect delay %v below %v", c.ReconnectDelay, MinDuration)
	}
	if c.PingInterval != 0 && c.PingInterval < MinDuration {
		return errors.NotValidf("ping interval %v below %v", c.PingInterval, MinDuration)
	}
	return nil
}

// Hosts returns the database seed addresses.
func (c *Config) Hosts() []string {
	var hosts []string
	for _, h := range strings.Split(c.NoSQLHost, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// ConnectionString returns the database URL with the password redacted,
// suitable for logging.
func (c *Config) ConnectionString() string {
	cred := ""
	if c.NoSQLUser != "" {
		cred = c.NoSQLUser + ":xxxxx@"
	}
	return fmt.Sprintf("mongodb://%s%s/%s", cred, strings.Join(c.Hosts(), ","), c.NoSQLTable)
}

// ListenAddr is the address the HTTP listener binds to.
func (c *Config) ListenAddr() string {
	return ":" + c.ServerPort
}
