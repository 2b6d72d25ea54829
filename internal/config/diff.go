package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, providers, cache backend) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CommandChanged is true when the classification threshold moved.
	CommandChanged bool
	NewThreshold   float64

	// RateCapsChanged is true when either hourly vendor cap moved. Slot
	// count and queue timeout are fixed at startup.
	RateCapsChanged bool
	NewTTSPerHour   int
	NewSTTPerHour   int

	// IdleTimeoutChanged is true when the session eviction window moved.
	IdleTimeoutChanged bool
	NewIdleTimeout     Duration
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.CommandChanged || d.RateCapsChanged || d.IdleTimeoutChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Command.ConfidenceThreshold != new.Command.ConfidenceThreshold {
		d.CommandChanged = true
		d.NewThreshold = new.Command.ConfidenceThreshold
	}

	if old.Limiter.TTSPerHour != new.Limiter.TTSPerHour ||
		old.Limiter.STTPerHour != new.Limiter.STTPerHour {
		d.RateCapsChanged = true
		d.NewTTSPerHour = new.Limiter.TTSPerHour
		d.NewSTTPerHour = new.Limiter.STTPerHour
	}

	if old.Session.IdleTimeout != new.Session.IdleTimeout {
		d.IdleTimeoutChanged = true
		d.NewIdleTimeout = new.Session.IdleTimeout
	}

	return d
}
