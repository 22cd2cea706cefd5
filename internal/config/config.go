package config

import (
	"time"
)

// Config is the runtime configuration. It is built once at startup and not modified afterwards.
type Config struct {
	InfluxDB   InfluxDBConfig
	ClickHouse ClickHouseConfig
	Easee      EaseeConfig
	Spool      SpoolConfig
	Server     ServerConfig

	Interval time.Duration // collect-and-report period
	LogLevel string
	LogFile  string
}

// InfluxDBConfig InfluxDB sink settings
type InfluxDBConfig struct {
	Addr        string // INFLUXDB_ADDR
	Database    string // INFLUXDB_DB_NAME
	Measurement string // INFLUXDB_DB_MEASUREMENT
	Token       string
	Username    string
	Password    string
}

// AuthToken returns the token sent to the write API. v1 servers accept "user:pass" in its place.
func (c InfluxDBConfig) AuthToken() string {
	if c.Token != "" {
		return c.Token
	}
	if c.Username != "" {
		return c.Username + ":" + c.Password
	}
	return ""
}

// ClickHouseConfig optional ClickHouse sink settings; the sink is disabled when Addr is empty.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Enabled reports whether the ClickHouse sink is configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Addr != ""
}

// EaseeConfig Easee cloud API settings
type EaseeConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMax        int
	Username        string // USERNAME
	Password        string // PASSWORD
	CredentialsFile string // CREDENTIALS_FILE
}

// SpoolConfig bounds for samples kept after a failed write
type SpoolConfig struct {
	Dir        string
	MaxAge     time.Duration
	MaxEntries int
}

// ServerConfig HTTP mode settings
type ServerConfig struct {
	Address  string // ROCKET_ADDRESS
	Port     int    // ROCKET_PORT
	CacheTTL time.Duration
}

const (
	DefaultMeasurement     = "variable_backup"
	DefaultInterval        = 1 // minutes
	DefaultLogLevel        = "info"
	DefaultCredentialsFile = "/credentials/credentials"
	DefaultEaseeBaseURL    = "https://api.easee.cloud/api"
	DefaultServerAddress   = "0.0.0.0"
	DefaultServerPort      = 8000
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		InfluxDB: InfluxDBConfig{
			Measurement: DefaultMeasurement,
		},
		ClickHouse: ClickHouseConfig{
			Database: "default",
			Username: "default",
			Table:    "charger_samples",
		},
		Easee: EaseeConfig{
			BaseURL:         DefaultEaseeBaseURL,
			Timeout:         30 * time.Second,
			RetryMax:        2,
			CredentialsFile: DefaultCredentialsFile,
		},
		Spool: SpoolConfig{
			Dir:        "/tmp/easee-status-spool",
			MaxAge:     24 * time.Hour,
			MaxEntries: 10000,
		},
		Server: ServerConfig{
			Address:  DefaultServerAddress,
			Port:     DefaultServerPort,
			CacheTTL: time.Minute,
		},
		Interval: DefaultInterval * time.Minute,
		LogLevel: DefaultLogLevel,
	}
}
