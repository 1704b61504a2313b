package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and the transcript vocabulary can be applied without a
// restart; changes elsewhere are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptChanged is true if the vocabulary or a matcher threshold
	// changed.
	TranscriptChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TranscriptChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ot, nt := old.Transcript, new.Transcript
	if !slices.Equal(ot.Vocabulary, nt.Vocabulary) ||
		ot.PhoneticThreshold != nt.PhoneticThreshold ||
		ot.FuzzyThreshold != nt.FuzzyThreshold {
		d.TranscriptChanged = true
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !reflect.DeepEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Voice != new.Voice {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	od, nd := old.Diagnostics, new.Diagnostics
	od.ReloadInterval, nd.ReloadInterval = 0, 0
	if od != nd {
		d.RestartRequired = append(d.RestartRequired, "diagnostics")
	}

	return d
}
