package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// CheckUnitFileIntegrity compares the unit file at unitPath against the
// install-time hash stored at hashPath. Returns a warning if the unit was
// edited after install, or "" when it is intact or nothing was installed.
func CheckUnitFileIntegrity(unitPath, hashPath string) string {
	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	data, err := os.ReadFile(unitPath)
	if os.IsNotExist(err) {
		return fmt.Sprintf("systemd unit %s was removed after installation", unitPath)
	}
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	actual := hashHex(data)
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

// RecordUnitFileHash writes the SHA-256 of the unit at unitPath to hashPath.
func RecordUnitFileHash(unitPath, hashPath string) error {
	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Errorf("read unit file: %w", err)
	}
	return os.WriteFile(hashPath, []byte(hashHex(data)+"\n"), 0o600)
}

func hashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
