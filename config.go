package prep

import (
	"time"

	"github.com/joeshaw/envdecode"
)

// Config carries the tunable defaults of the middleware. Defaults can be
// loaded from the environment via ConfigFromEnv.
type Config struct {
	// ContentTypes is the comma-separated default accept list advertised by
	// Configure when the handler supplies no offer. ENV: NOTIFICATIONS_CONTENT_TYPES
	ContentTypes string `env:"NOTIFICATIONS_CONTENT_TYPES,default=message/rfc822"`
	// DurationSeconds is the default streaming duration applied when the
	// client requests none, or requests one that is not a positive integer
	// within MaxDurationSeconds. ENV: NOTIFICATIONS_DURATION
	DurationSeconds int `env:"NOTIFICATIONS_DURATION,default=3600"`
	// MaxDurationSeconds is the longest client-requested duration honoured;
	// a longer request falls back to DurationSeconds rather than being cut to
	// this value. ENV: NOTIFICATIONS_DURATION_MAX
	MaxDurationSeconds int `env:"NOTIFICATIONS_DURATION_MAX,default=7200"`
}

// ConfigFromEnv builds a Config using envdecode to populate the fields.
func ConfigFromEnv() Config {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.ContentTypes == "" {
		c.ContentTypes = "message/rfc822"
	}
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = 3600
	}
	if c.MaxDurationSeconds <= 0 {
		c.MaxDurationSeconds = 7200
	}
	return c
}

func (c Config) defaultDuration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

func (c Config) maxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}
