package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/declaro/internal/flagx"
)

// Flags are the spellings parseFlags understands. Long names match the
// command-line front end so both forms reach the config.
var Flags = []string{
	"-a", "--api",
	"-i", "--interval",
	"-t", "--timeout",
	"-d", "--db",
	"-l", "--log-level",
}

// parseFlags populates selected Config fields from command-line flags.
//
//	-a, --api string        base URL of the portal API
//	-i, --interval int      online check interval in seconds
//	-t, --timeout int       request timeout in seconds
//	-d, --db string         cache database path
//	-l, --log-level string  log level
//
// args are filtered with flagx.FilterArgs so flags owned by other components
// do not interfere.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, Flags)

	fs := flag.NewFlagSet("declaro", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	interval := int(cfg.OnlineCheckInterval.Seconds())
	timeout := int(cfg.RequestTimeout.Seconds())
	for _, name := range []string{"a", "api"} {
		fs.StringVar(&cfg.APIBaseURL, name, cfg.APIBaseURL, "base URL of the portal API")
	}
	for _, name := range []string{"i", "interval"} {
		fs.IntVar(&interval, name, interval, "online check interval (in seconds)")
	}
	for _, name := range []string{"t", "timeout"} {
		fs.IntVar(&timeout, name, timeout, "request timeout (in seconds)")
	}
	for _, name := range []string{"d", "db"} {
		fs.StringVar(&cfg.DBPath, name, cfg.DBPath, "cache database path")
	}
	for _, name := range []string{"l", "log-level"} {
		fs.StringVar(&cfg.LogLevel, name, cfg.LogLevel, "log level")
	}

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if interval <= 0 || timeout <= 0 {
		return fmt.Errorf("parse flags: intervals must be positive")
	}

	cfg.OnlineCheckInterval = time.Duration(interval) * time.Second
	cfg.RequestTimeout = time.Duration(timeout) * time.Second
	return nil
}
