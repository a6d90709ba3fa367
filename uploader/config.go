package uploader

import (
	"github.com/skywave-uplink/habuplink/uplinkerr"
)

const (
	// DefaultDatabaseURL is the base URL of the remote store used when
	// Config.DatabaseURL is empty.
	DefaultDatabaseURL = "http://habitat.habhub.org"
	// DefaultDatabaseName is the logical database used when
	// Config.DatabaseName is empty.
	DefaultDatabaseName = "habitat"
	// DefaultMaxMergeAttempts is the retry budget used when
	// Config.MaxMergeAttempts is zero.
	DefaultMaxMergeAttempts = 20

	// skewTolerance is the fixed, non-user-tunable number of seconds a
	// caller-supplied time_created may lie ahead of now() without comment.
	// Beyond it the upload still proceeds — only a diagnostic warning is
	// logged. A time_created in the past is never warned about.
	skewTolerance = 300
)

// Config is the immutable configuration of one Uploader instance. Field
// tags make it viper/mapstructure-friendly so cmd/uplink can populate it
// from flags, environment variables, or a YAML file without this package
// importing viper itself.
type Config struct {
	Callsign         string `mapstructure:"callsign" yaml:"callsign"`
	DatabaseURL      string `mapstructure:"database_url" yaml:"database_url"`
	DatabaseName     string `mapstructure:"database_name" yaml:"database_name"`
	MaxMergeAttempts int    `mapstructure:"max_merge_attempts" yaml:"max_merge_attempts"`
}

// withDefaults returns a copy of c with empty fields filled from the
// package defaults.
func (c Config) withDefaults() Config {
	if c.DatabaseURL == "" {
		c.DatabaseURL = DefaultDatabaseURL
	}
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.MaxMergeAttempts == 0 {
		c.MaxMergeAttempts = DefaultMaxMergeAttempts
	}
	return c
}

// validate rejects configuration that violates spec.md §3's constraints.
func (c Config) validate() error {
	if c.Callsign == "" {
		return uplinkerr.InvalidArgument("callsign must not be empty")
	}
	if c.MaxMergeAttempts < 0 {
		return uplinkerr.InvalidArgument("max_merge_attempts must be positive, got %d", c.MaxMergeAttempts)
	}
	return nil
}
