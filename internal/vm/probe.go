package vm

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
)

// notFoundPatterns are the host messages that mean "no machine by this
// name". Each is formatted with the machine name being probed.
var notFoundPatterns = []string{
	"no domain with matching name '%s'",
	"Could not find a registered machine named '%s'",
}

// isMachineNotFound reports whether err from a lookup of name means the
// machine is not registered. Every other error is a real host failure.
func isMachineNotFound(name string, err error) bool {
	if err == nil {
		return false
	}
	if libvirt.IsNotFound(err) {
		return true
	}

	msg := err.Error()
	for _, pattern := range notFoundPatterns {
		if strings.Contains(msg, fmt.Sprintf(pattern, name)) {
			return true
		}
	}
	return false
}

// probeMachine reports whether a machine called name is registered.
func probeMachine(ctx context.Context, host hostClient, name string) (bool, error) {
	_, err := host.FindMachine(ctx, name)
	if err == nil {
		return true, nil
	}
	if isMachineNotFound(name, err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to probe machine %s: %w", name, err)
}
