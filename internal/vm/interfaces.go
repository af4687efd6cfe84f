package vm

import (
	"context"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
)

// hostClient is the set of host primitives provisioning needs.
//
// In production, this is satisfied by libvirtHost wrapping *libvirt.Host.
// In tests, this is satisfied by mock implementations.
type hostClient interface {
	FindMachine(ctx context.Context, name string) (*anvillibvirt.Machine, error)
	ComposeSettingsPath(name, workingDir string) string
	CreateMachine(ctx context.Context, settings anvillibvirt.MachineSettings) (*anvillibvirt.MachineDraft, error)
	RegisterMachine(ctx context.Context, draft *anvillibvirt.MachineDraft) (*anvillibvirt.Machine, error)
	LockMachine(ctx context.Context, name string, mode anvillibvirt.LockMode) (Session, error)
	OpenMedium(ctx context.Context, path string, deviceType v1alpha1.DeviceType, access anvillibvirt.AccessMode, forceRefresh bool) (*anvillibvirt.Medium, error)
	CreateMedium(ctx context.Context, req anvillibvirt.MediumRequest) (*anvillibvirt.Medium, error)
}

// Session is an exclusive, locked view of one machine.
type Session interface {
	SetMemory(mib uint64) error
	AddStorageController(name string, bus v1alpha1.BusType) error
	AttachDevice(controllerName string, slot v1alpha1.DeviceDetails, medium *anvillibvirt.Medium) error
	ConfigureNATAdapter(slot uint32, adapter v1alpha1.NATAdapter) error
	SaveSettings(ctx context.Context) error
	Unlock() error
}

// libvirtHost adapts *libvirt.Host to hostClient.
type libvirtHost struct {
	*anvillibvirt.Host
}

func (h libvirtHost) LockMachine(ctx context.Context, name string, mode anvillibvirt.LockMode) (Session, error) {
	sess, err := h.Host.LockMachine(ctx, name, mode)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Observer receives timings of provisioning runs, for metrics.
type Observer interface {
	// ObserveStep is called after every host-facing step.
	ObserveStep(step string, duration time.Duration, err error)

	// ObserveOutcome is called once per run with its final phase.
	ObserveOutcome(phase v1alpha1.Phase, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(string, time.Duration, error) {}
func (nopObserver) ObserveOutcome(v1alpha1.Phase, time.Duration) {}
