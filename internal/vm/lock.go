package vm

import (
	"context"
	"fmt"

	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
)

// applyLocked runs mutation against machine under its exclusive lock and
// saves the settings when the mutation succeeds. The lock is released exactly
// once whatever happens. There is no retry.
func applyLocked(ctx context.Context, host hostClient, machine string, step Step, target string, mutation func(Session) error) (err error) {
	sess, err := host.LockMachine(ctx, machine, anvillibvirt.LockWrite)
	if err != nil {
		return stepError(machine, step, target, fmt.Errorf("failed to lock machine: %w", err))
	}
	defer func() {
		if uerr := sess.Unlock(); uerr != nil && err == nil {
			err = stepError(machine, step, target, fmt.Errorf("failed to unlock machine: %w", uerr))
		}
	}()

	if err := mutation(sess); err != nil {
		return stepError(machine, step, target, err)
	}

	if err := sess.SaveSettings(ctx); err != nil {
		return stepError(machine, step, target, fmt.Errorf("failed to save settings: %w", err))
	}

	return nil
}
