package environment

import (
	"fmt"

	"github.com/parcelhq/parcel/internal/version"
)

// Bare describes a host runner install without any detected isolation.
type Bare struct {
	Version      string
	Requirements []string
}

func (b Bare) IsActive() (bool, error) {
	return version.Minor() == b.Version, nil
}

func (b Bare) IsAvailable() (bool, error) {
	if active, _ := b.IsActive(); active {
		return true, nil
	}
	// A versioned runner binary on the search path, e.g. "parcel1.2".
	_, err := lookPath(b.binaryName())
	return err == nil, nil
}

// ManagerAvailable is always false: runner installs are never provisioned
// on the host machine by this subsystem.
func (b Bare) ManagerAvailable() bool { return false }

func (b Bare) RunnerCommand() ([]string, error) {
	return []string{b.binaryName()}, nil
}

func (b Bare) RunnerVariables() (map[string]string, error) {
	return environMap(), nil
}

func (b Bare) Describe() string {
	return fmt.Sprintf("bare runner %s", b.Version)
}

func (b Bare) binaryName() string {
	return RunnerName + b.Version
}
