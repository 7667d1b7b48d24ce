// Package input translates controller events into host keyboard input.
package input

// Injector is the capability that turns a logical key name into an
// actual key press or release on the host. Implementations must be
// safe to call from multiple goroutines.
type Injector interface {
	Press(key string) error
	Release(key string) error
}

// keyMap maps controller button identifiers to host key names.
// These are the PPSSPP default bindings.
var keyMap = map[string]string{
	// D-pad
	"dpad_up":    "up",
	"dpad_down":  "down",
	"dpad_left":  "left",
	"dpad_right": "right",

	// Action buttons
	"x":        "z",
	"circle":   "x",
	"square":   "a",
	"triangle": "s",

	// System buttons
	"start":  "space",
	"select": "v",

	// Shoulder buttons
	"l": "q",
	"r": "w",

	// Analog stick
	"analog_up":    KeyAnalogUp,
	"analog_down":  KeyAnalogDown,
	"analog_left":  KeyAnalogLeft,
	"analog_right": KeyAnalogRight,
}

// Host keys driven by the analog stick.
const (
	KeyAnalogUp    = "i"
	KeyAnalogDown  = "k"
	KeyAnalogLeft  = "j"
	KeyAnalogRight = "l"
)

// KeyFor returns the host key mapped to a button identifier.
func KeyFor(button string) (string, bool) {
	key, ok := keyMap[button]
	return key, ok
}

// MappedKeys returns every host key a button can drive. Used at
// shutdown to release anything that might still be held.
func MappedKeys() []string {
	keys := make([]string, 0, len(keyMap))
	for _, key := range keyMap {
		keys = append(keys, key)
	}
	return keys
}

// ReleaseAll releases every mapped key so a terminating server never
// leaves the host keyboard with a stuck key. Errors are ignored: a key
// that was never pressed has nothing to release.
func ReleaseAll(injector Injector) {
	for _, key := range MappedKeys() {
		_ = injector.Release(key)
	}
}
