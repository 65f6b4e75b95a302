package prep

import "log/slog"

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	cfg          *Config
	engine       *Engine
	store        *EventIDStore
	quirkPadding bool
}

// WithLogger sets the slog logger used by the middleware. If not provided,
// logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithConfig overrides the environment-derived Config.
func WithConfig(cfg Config) Option {
	return func(c *newConfig) { cfgCopy := cfg.withDefaults(); c.cfg = &cfgCopy }
}

// WithEngine shares a subscription engine across handlers. A handler built
// without one owns a private engine.
func WithEngine(e *Engine) Option {
	return func(c *newConfig) { c.engine = e }
}

// WithEventIDStore shares a last-event-ID store across handlers.
func WithEventIDStore(s *EventIDStore) Option {
	return func(c *newConfig) { c.store = s }
}

// WithQuirkPadding toggles the browser buffering workaround that pads
// notifications written to quirky user agents. Enabled by default.
func WithQuirkPadding(enabled bool) Option {
	return func(c *newConfig) { c.quirkPadding = enabled }
}
