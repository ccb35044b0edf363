// Package config loads runtime configuration for the declaro client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. A dotenv file (-e/-env-file, or ./.env) and DECLARO_* variables.
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a, --api string        base URL of the portal API
//	-i, --interval int      online status check interval (seconds)
//	-t, --timeout int       request timeout (seconds)
//	-d, --db string         cache database path
//	-l, --log-level string  log level (debug, info, warn, error)
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be either strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "api_base_url": "https://portail.example.tg",
//	  "online_check_interval": "3s",
//	  "request_timeout": "10s",
//	  "data_dir": "/var/lib/declaro",
//	  "log_format": "json",
//	  "max_logs": 1000
//	}
//
// # Environment
//
//	DECLARO_API_BASE_URL, DECLARO_ONLINE_CHECK_INTERVAL, DECLARO_REQUEST_TIMEOUT,
//	DECLARO_DATA_DIR, DECLARO_DB_PATH, DECLARO_LOG_LEVEL, DECLARO_LOG_FORMAT,
//	DECLARO_MAX_LOGS
package config
