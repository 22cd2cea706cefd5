package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys are the lower-cased environment variable names; viper upper-cases them for the env lookup
// and dotenv files produce the same keys.
const (
	KeyInfluxAddr         = "influxdb_addr"
	KeyInfluxDatabase     = "influxdb_db_name"
	KeyInfluxMeasurement  = "influxdb_db_measurement"
	KeyInfluxToken        = "influxdb_token"
	KeyInfluxUsername     = "influxdb_username"
	KeyInfluxPassword     = "influxdb_password"
	KeyInterval           = "interval"
	KeyLogLevel           = "log_level"
	KeyLogFile            = "log_file"
	KeyCredentialsFile    = "credentials_file"
	KeyUsername           = "username"
	KeyPassword           = "password"
	KeyEaseeAPIURL        = "easee_api_url"
	KeyAPITimeout         = "api_timeout"
	KeyAPIRetryMax        = "api_retry_max"
	KeyClickHouseAddr     = "clickhouse_addr"
	KeyClickHouseDatabase = "clickhouse_database"
	KeyClickHouseUsername = "clickhouse_username"
	KeyClickHousePassword = "clickhouse_password"
	KeyClickHouseTable    = "clickhouse_table"
	KeySpoolDir           = "spool_dir"
	KeySpoolMaxAge        = "spool_max_age"
	KeySpoolMaxEntries    = "spool_max_entries"
	KeyServerAddress      = "rocket_address"
	KeyServerPort         = "rocket_port"
	KeyServerCacheTTL     = "server_cache_ttl"
)

var allKeys = []string{
	KeyInfluxAddr, KeyInfluxDatabase, KeyInfluxMeasurement, KeyInfluxToken, KeyInfluxUsername, KeyInfluxPassword,
	KeyInterval, KeyLogLevel, KeyLogFile,
	KeyCredentialsFile, KeyUsername, KeyPassword, KeyEaseeAPIURL, KeyAPITimeout, KeyAPIRetryMax,
	KeyClickHouseAddr, KeyClickHouseDatabase, KeyClickHouseUsername, KeyClickHousePassword, KeyClickHouseTable,
	KeySpoolDir, KeySpoolMaxAge, KeySpoolMaxEntries,
	KeyServerAddress, KeyServerPort, KeyServerCacheTTL,
}

// NewViper returns a viper instance bound to every known environment variable, with defaults
// set. When envFile is not empty it is read as a dotenv file; real environment variables win.
func NewViper(envFile string) (*viper.Viper, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault(KeyInfluxMeasurement, def.InfluxDB.Measurement)
	v.SetDefault(KeyInterval, strconv.Itoa(DefaultInterval))
	v.SetDefault(KeyLogLevel, def.LogLevel)
	v.SetDefault(KeyCredentialsFile, def.Easee.CredentialsFile)
	v.SetDefault(KeyEaseeAPIURL, def.Easee.BaseURL)
	v.SetDefault(KeyAPITimeout, def.Easee.Timeout.String())
	v.SetDefault(KeyAPIRetryMax, strconv.Itoa(def.Easee.RetryMax))
	v.SetDefault(KeyClickHouseDatabase, def.ClickHouse.Database)
	v.SetDefault(KeyClickHouseUsername, def.ClickHouse.Username)
	v.SetDefault(KeyClickHouseTable, def.ClickHouse.Table)
	v.SetDefault(KeySpoolDir, def.Spool.Dir)
	v.SetDefault(KeySpoolMaxAge, def.Spool.MaxAge.String())
	v.SetDefault(KeySpoolMaxEntries, strconv.Itoa(def.Spool.MaxEntries))
	v.SetDefault(KeyServerAddress, def.Server.Address)
	v.SetDefault(KeyServerPort, strconv.Itoa(def.Server.Port))
	v.SetDefault(KeyServerCacheTTL, def.Server.CacheTTL.String())

	for _, key := range allKeys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", strings.ToUpper(key), err)
		}
	}

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, NewErrorWithCause(ErrorTypeFile, "", "failed to read env file "+envFile, err)
		}
	}

	return v, nil
}

// Load builds a Config from v. Values that do not parse are reported together in a
// *ValidationError; required values are checked separately by Validate.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	p := &parser{v: v}

	cfg.InfluxDB = InfluxDBConfig{
		Addr:        strings.TrimSpace(v.GetString(KeyInfluxAddr)),
		Database:    strings.TrimSpace(v.GetString(KeyInfluxDatabase)),
		Measurement: v.GetString(KeyInfluxMeasurement),
		Token:       v.GetString(KeyInfluxToken),
		Username:    v.GetString(KeyInfluxUsername),
		Password:    v.GetString(KeyInfluxPassword),
	}

	cfg.ClickHouse = ClickHouseConfig{
		Addr:     strings.TrimSpace(v.GetString(KeyClickHouseAddr)),
		Database: v.GetString(KeyClickHouseDatabase),
		Username: v.GetString(KeyClickHouseUsername),
		Password: v.GetString(KeyClickHousePassword),
		Table:    v.GetString(KeyClickHouseTable),
	}

	cfg.Easee = EaseeConfig{
		BaseURL:         strings.TrimRight(v.GetString(KeyEaseeAPIURL), "/"),
		Timeout:         p.duration(KeyAPITimeout),
		RetryMax:        p.integer(KeyAPIRetryMax),
		Username:        v.GetString(KeyUsername),
		Password:        v.GetString(KeyPassword),
		CredentialsFile: v.GetString(KeyCredentialsFile),
	}

	cfg.Spool = SpoolConfig{
		Dir:        v.GetString(KeySpoolDir),
		MaxAge:     p.duration(KeySpoolMaxAge),
		MaxEntries: p.integer(KeySpoolMaxEntries),
	}

	cfg.Server = ServerConfig{
		Address:  v.GetString(KeyServerAddress),
		Port:     p.integer(KeyServerPort),
		CacheTTL: p.duration(KeyServerCacheTTL),
	}

	cfg.Interval = time.Duration(p.integer(KeyInterval)) * time.Minute
	cfg.LogLevel = v.GetString(KeyLogLevel)
	cfg.LogFile = v.GetString(KeyLogFile)

	if len(p.errs) > 0 {
		return nil, &ValidationError{Errors: p.errs}
	}
	return cfg, nil
}

// parser collects conversion errors instead of stopping at the first one.
type parser struct {
	v    *viper.Viper
	errs []error
}

func (p *parser) integer(key string) int {
	raw := strings.TrimSpace(p.v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, NewErrorWithField(ErrorTypeFormat, envName(key), "must be an integer", raw))
		return 0
	}
	return n
}

func (p *parser) duration(key string) time.Duration {
	raw := strings.TrimSpace(p.v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, NewErrorWithField(ErrorTypeFormat, envName(key), "must be a duration such as 30s or 5m", raw))
		return 0
	}
	return d
}

func envName(key string) string {
	return strings.ToUpper(key)
}
