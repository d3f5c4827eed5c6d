package policy

import "github.com/rhuss/toolgate/pkg/settings"

// Accessibility setting keys.
const (
	SettingUserActionRequiredSignal = "accessibility.signals.chatUserActionRequired"
	SettingScreenReaderOptimized    = "accessibility.screenReaderOptimized"
)

// Alert says how to signal that a call waits for the user.
type Alert struct {
	Sound        bool
	Announcement bool
}

// Any reports whether some signal should be emitted.
func (a Alert) Any() bool { return a.Sound || a.Announcement }

// UserActionAlert evaluates the accessibility settings for a call that
// needs confirmation. Nothing is signalled while global auto approval is on.
// The signal setting has the form {sound: on|auto|off, announcement:
// auto|off}; "auto" follows the screen-reader flag.
func (e *Engine) UserActionAlert() Alert {
	if globalAutoApproveEnabled(e.deps.Settings.Inspect(SettingGlobalAutoApprove).Value) {
		return Alert{}
	}
	cfg := settings.Map(e.deps.Settings.Inspect(SettingUserActionRequiredSignal).Value)
	if cfg == nil {
		return Alert{}
	}
	screenReader := settings.IsTrue(e.deps.Settings.Inspect(SettingScreenReaderOptimized).Value)
	sound := settings.String(cfg["sound"])
	announcement := settings.String(cfg["announcement"])
	return Alert{
		Sound:        sound == "on" || (sound == "auto" && screenReader),
		Announcement: screenReader && announcement == "auto",
	}
}
