package config

import (
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Keys used when loading configuration from file/env via viper, grounded on
// nabbar-golib/config's component model (one viper key per Config field).
const (
	KeyMaxConnectionLifetimeMS    = "max_connection_lifetime_ms"
	KeyMaxConnectionPoolSize      = "max_connection_pool_size"
	KeyConnectionAcquisitionMS    = "connection_acquisition_timeout_ms"
	KeyConnectionTimeoutMS        = "connection_timeout_ms"
	KeyMaxTransactionRetryTimeMS  = "max_transaction_retry_time_ms"
	KeyUserAgent                  = "user_agent"
	KeyDisableLosslessIntegers    = "disable_lossless_integers"
)

// LoadViper builds a Config from a viper instance previously primed with
// SetConfigFile/ReadInConfig/AutomaticEnv by the caller. Values are read as
// strings first and parsed, per the spec's "strings are parsed as integers"
// sanitization rule — this also makes env-var sourced values (always
// strings) and file-sourced numeric values behave identically.
func LoadViper(v *viper.Viper) (*Config, error) {
	c := Default()

	if s := v.GetString(KeyMaxConnectionLifetimeMS); s != "" {
		ms, err := parseMillis(s)
		if err != nil {
			return nil, err
		}
		c.MaxConnectionLifetime = ms
	}
	if s := v.GetString(KeyMaxConnectionPoolSize); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		c.MaxConnectionPoolSize = n
	}
	if s := v.GetString(KeyConnectionAcquisitionMS); s != "" {
		ms, err := parseMillis(s)
		if err != nil {
			return nil, err
		}
		c.ConnectionAcquisitionTimeout = ms
	}
	if s := v.GetString(KeyConnectionTimeoutMS); s != "" {
		ms, err := parseMillis(s)
		if err != nil {
			return nil, err
		}
		c.ConnectionTimeout = ms
	}
	if s := v.GetString(KeyMaxTransactionRetryTimeMS); s != "" {
		ms, err := parseMillis(s)
		if err != nil {
			return nil, err
		}
		c.MaxTransactionRetryTime = ms
	}
	if ua := v.GetString(KeyUserAgent); ua != "" {
		c.UserAgent = ua
	}
	if v.IsSet(KeyDisableLosslessIntegers) {
		c.DisableLosslessIntegers = v.GetBool(KeyDisableLosslessIntegers)
	}

	c.Sanitize()
	return c, nil
}

func parseMillis(s string) (time.Duration, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
