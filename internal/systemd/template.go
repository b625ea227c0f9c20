// Package systemd renders and installs the systemd user unit that keeps the
// hallpass daemon running.
package systemd

import (
	"fmt"
	"os"
	"path/filepath"
)

// UnitName is the user unit file name.
const UnitName = "hallpass.service"

// UserUnit returns the unit for running binPath serve with configPath.
func UserUnit(binPath, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=hallpass behavioral gate
After=graphical-session.target

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true

[Install]
WantedBy=default.target
`, binPath, configPath)
}

// UserUnitDir returns ~/.config/systemd/user.
func UserUnitDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

// Install writes content as UnitName under dir and records its hash at
// hashPath. Returns the unit path.
func Install(dir, content, hashPath string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	unitPath := filepath.Join(dir, UnitName)
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write systemd unit: %w", err)
	}
	if err := RecordUnitFileHash(unitPath, hashPath); err != nil {
		return unitPath, err
	}
	return unitPath, nil
}
