package input

import (
	"fmt"

	"github.com/go-vgo/robotgo"
)

// Robotgo injects keys through the robotgo library. The zero value is
// ready to use.
type Robotgo struct{}

func NewRobotgo() Robotgo {
	return Robotgo{}
}

func (Robotgo) Press(key string) error {
	if err := robotgo.KeyToggle(key, "down"); err != nil {
		return fmt.Errorf("press %q: %w", key, err)
	}
	return nil
}

func (Robotgo) Release(key string) error {
	if err := robotgo.KeyToggle(key, "up"); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}
