// Package naming provides infrastructure-level naming conventions for
// libvirt resources: device aliases, storage pool names for media
// directories, settings and lock file names, and deterministic MAC
// addresses.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// UserAliasPrefix is required by libvirt for user-defined device aliases.
const UserAliasPrefix = "ua-"

var unsafeChars = regexp.MustCompile(`[^a-z0-9-]+`)

// slug lowercases s and replaces runs of characters outside [a-z0-9-] with "-".
func slug(s string) string {
	out := unsafeChars.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(out, "-")
}

// ControllerAlias returns the device alias under which a storage controller
// with the given name is recorded in the domain definition.
//
// Example: "IDE Controller" → ua-ctrl-ide-controller
func ControllerAlias(controllerName string) string {
	return UserAliasPrefix + "ctrl-" + slug(controllerName)
}

// NICAlias returns the device alias for the NAT adapter in slot.
//
// Example: slot 1 → ua-nic1
func NICAlias(slot uint32) string {
	return fmt.Sprintf("%snic%d", UserAliasPrefix, slot)
}

// DiskAlias returns the device alias for a disk or cdrom at a controller slot.
//
// Example: ("IDE Controller", 0, 1) → ua-disk-ide-controller-0-1
func DiskAlias(controllerName string, port, device uint32) string {
	return fmt.Sprintf("%sdisk-%s-%d-%d", UserAliasPrefix, slug(controllerName), port, device)
}

// PoolNameForDir returns the storage pool name anvil uses for a media
// directory. The name carries the directory's base name for readability and
// a short hash of the cleaned absolute path for uniqueness.
//
// Example: /var/lib/anvil/node1 → anvil-node1-3f9a1c2b
func PoolNameForDir(dir string) string {
	clean := filepath.Clean(dir)
	sum := sha256.Sum256([]byte(clean))
	base := slug(filepath.Base(clean))
	if base == "" {
		base = "root"
	}
	return fmt.Sprintf("anvil-%s-%s", base, hex.EncodeToString(sum[:4]))
}

// SettingsFilePath returns <workingDir>/<name>/<name>.xml.
func SettingsFilePath(workingDir, machineName string) string {
	return filepath.Join(workingDir, machineName, machineName+".xml")
}

// SeedISOPath returns the path of the cloud-init seed ISO for a machine.
func SeedISOPath(workingDir, machineName string) string {
	return filepath.Join(workingDir, machineName, "seed.iso")
}

// LockFilePath returns the path of the lock file guarding a machine.
func LockFilePath(lockDir, machineName string) string {
	return filepath.Join(lockDir, machineName+".lock")
}

// MACForSlot calculates a deterministic MAC address from a machine UUID and
// adapter slot. Uses the locally administered prefix be:ef:.
//
// Example: (6f1c2a4e-..., 1) → be:ef:6f:1c:2a:01
func MACForSlot(vmID string, slot uint32) (string, error) {
	id, err := uuid.Parse(vmID)
	if err != nil {
		return "", fmt.Errorf("invalid machine id %q: %w", vmID, err)
	}
	if slot > 0xff {
		return "", fmt.Errorf("adapter slot %d out of range", slot)
	}
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", id[0], id[1], id[2], byte(slot)), nil
}
