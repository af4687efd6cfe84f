package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"sync"
)

// qemuConfPath is where libvirt's QEMU driver reads its user/group settings.
const qemuConfPath = "/etc/libvirt/qemu.conf"

var (
	qemuUID  string
	qemuGID  string
	qemuOnce sync.Once
	qemuErr  error
)

// GetQEMUUserGroup returns the UID and GID the QEMU process runs as, used as
// owner of the volumes anvil creates. Resolution order:
//  1. user/group configured in /etc/libvirt/qemu.conf
//  2. the common user names qemu and libvirt-qemu
//  3. UID/GID 107, returned together with a non-nil error
//
// The result is cached after the first call.
func GetQEMUUserGroup() (uid, gid string, err error) {
	qemuOnce.Do(func() {
		username, groupname := readQEMUConfiguredUser(qemuConfPath)

		if username != "" {
			if u, err := user.Lookup(username); err == nil {
				qemuUID = u.Uid
				qemuGID = u.Gid
				if groupname != "" {
					if g, err := user.LookupGroup(groupname); err == nil {
						qemuGID = g.Gid
					}
				}
				return
			}
		}

		for _, username := range []string{"qemu", "libvirt-qemu"} {
			if u, err := user.Lookup(username); err == nil {
				qemuUID = u.Uid
				qemuGID = u.Gid
				return
			}
		}

		qemuUID = "107"
		qemuGID = "107"
		qemuErr = fmt.Errorf("could not determine QEMU user/group, using fallback UID/GID 107")
	})

	return qemuUID, qemuGID, qemuErr
}

func readQEMUConfiguredUser(path string) (username, groupname string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer func() { _ = file.Close() }()

	return parseQEMUConf(file)
}

// parseQEMUConf extracts the user and group settings from qemu.conf content.
// Missing settings are returned as empty strings.
func parseQEMUConf(r io.Reader) (username, groupname string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}

	return username, groupname
}
