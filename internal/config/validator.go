package config

import (
	"errors"
	"net/url"
	"strings"
)

// Validate checks the settings the collect-and-report mode cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.InfluxDB.Addr == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "INFLUXDB_ADDR", "is required", c.InfluxDB.Addr))
	} else if u, err := url.Parse(c.InfluxDB.Addr); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeFormat, "INFLUXDB_ADDR", "must be an absolute URL", c.InfluxDB.Addr))
	}

	if c.InfluxDB.Database == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "INFLUXDB_DB_NAME", "is required", c.InfluxDB.Database))
	}

	if c.InfluxDB.Measurement == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "INFLUXDB_DB_MEASUREMENT", "must not be empty", c.InfluxDB.Measurement))
	}

	if c.Interval <= 0 {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "INTERVAL", "must be a positive number of minutes", c.Interval))
	}

	if c.Spool.MaxEntries < 0 {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "SPOOL_MAX_ENTRIES", "must be non-negative", c.Spool.MaxEntries))
	}

	if c.ClickHouse.Enabled() && c.ClickHouse.Table == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "CLICKHOUSE_TABLE", "must not be empty", c.ClickHouse.Table))
	}

	errs = append(errs, c.validateEasee()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateServer checks the settings the HTTP mode needs.
func (c *Config) ValidateServer() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "ROCKET_ADDRESS", "must not be empty", c.Server.Address))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "ROCKET_PORT", "must be between 1 and 65535", c.Server.Port))
	}
	if c.Server.CacheTTL < 0 {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "SERVER_CACHE_TTL", "must be non-negative", c.Server.CacheTTL))
	}

	errs = append(errs, c.validateEasee()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (c *Config) validateEasee() []error {
	var errs []error

	if c.Easee.BaseURL == "" {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "EASEE_API_URL", "must not be empty", c.Easee.BaseURL))
	}
	if c.Easee.Timeout <= 0 {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "API_TIMEOUT", "must be positive", c.Easee.Timeout))
	}
	if c.Easee.RetryMax < 0 {
		errs = append(errs, NewErrorWithField(ErrorTypeValidation, "API_RETRY_MAX", "must be non-negative", c.Easee.RetryMax))
	}

	return errs
}

// ValidationError aggregates every problem found in one pass
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation passed"
	}

	var sb strings.Builder
	sb.WriteString("config validation failed:")
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// Fields returns the variable names named by the aggregated errors.
func (e *ValidationError) Fields() []string {
	var fields []string
	for _, err := range e.Errors {
		var cfgErr *Error
		if errors.As(err, &cfgErr) && cfgErr.Field != "" {
			fields = append(fields, cfgErr.Field)
		}
	}
	return fields
}
