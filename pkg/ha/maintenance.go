// Package ha holds the high-availability primitives shared by the gateway
// and the orchestrator: the maintenance sentinel and failover eligibility.
//
// The maintenance flag is a single sentinel file on the shared volume. Its
// presence disables automatic failover routing in client utilities; direct
// inter-service calls are unaffected, so a candidate stack can still talk
// to live dependencies during development.
package ha

import (
	"fmt"
	"os"
)

type MaintenanceFlag struct {
	path string
}

func NewMaintenanceFlag(path string) *MaintenanceFlag {
	return &MaintenanceFlag{path: path}
}

// Active reports whether the sentinel exists. Read-frequent, write-rare;
// a stat per check is the whole protocol.
func (m *MaintenanceFlag) Active() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Set touches or removes the sentinel.
func (m *MaintenanceFlag) Set(on bool) error {
	if on {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to set maintenance flag: %w", err)
		}
		return f.Close()
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear maintenance flag: %w", err)
	}
	return nil
}

func (m *MaintenanceFlag) Path() string { return m.path }
