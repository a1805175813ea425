package policy

// Trigger identifies who started an update.
type Trigger string

const (
	// TriggerInteractive is an operator-driven update (UI or CLI).
	TriggerInteractive Trigger = "interactive"
	// TriggerCron is an unattended update started by a scheduler.
	TriggerCron Trigger = "cron"
)

// UnattendedLevel controls which releases cron may install.
type UnattendedLevel string

const (
	LevelDisabled UnattendedLevel = "disable"
	LevelPatch    UnattendedLevel = "patch"
	LevelSecurity UnattendedLevel = "security"
)

// Config is the read-only policy configuration handed to every rule.
type Config struct {
	Trigger           Trigger
	AllowMinorUpdates bool
	UnattendedLevel   UnattendedLevel
}

// Unattended reports whether the update runs without an operator.
func (c Config) Unattended() bool {
	return c.Trigger == TriggerCron
}

// MinorUpdatesAllowed reports whether a minor-version jump may be installed.
// Cron never crosses minor versions.
func (c Config) MinorUpdatesAllowed() bool {
	return !c.Unattended() && c.AllowMinorUpdates
}
