package config

// ConfigDiff describes what changed between two configs. Only fields that can
// be acted on without a process restart are tracked.
type ConfigDiff struct {
	// LogLevelChanged is true when the log level differs; it can be applied
	// immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when model, voice, instructions, or endpoint
	// differ. Takes effect on the next dial.
	SessionChanged bool

	// ReconnectChanged is true when the backoff policy differs.
	ReconnectChanged bool

	// HeartbeatChanged is true when the liveness tuning differs.
	HeartbeatChanged bool
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SessionChanged || d.ReconnectChanged || d.HeartbeatChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Model != new.Session.Model ||
		old.Session.Voice != new.Session.Voice ||
		old.Session.Instructions != new.Session.Instructions ||
		old.Session.BaseURL != new.Session.BaseURL ||
		triggerValue(old.Session) != triggerValue(new.Session) {
		d.SessionChanged = true
	}

	if old.Reconnect != new.Reconnect {
		d.ReconnectChanged = true
	}

	if old.Heartbeat != new.Heartbeat {
		d.HeartbeatChanged = true
	}

	return d
}

func triggerValue(s SessionConfig) bool {
	return s.TriggerModelFirst == nil || *s.TriggerModelFirst
}
