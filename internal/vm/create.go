package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/jbweber/anvil/api/v1alpha1"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/status"
)

// Options configures a Provisioner.
type Options struct {
	// WorkingDir holds one directory per machine with its settings file and
	// cloud-init seed ISO.
	WorkingDir string

	// Fs is used for stray disk removal and the seed ISO. Defaults to the OS
	// filesystem.
	Fs afero.Fs

	Logger logr.Logger

	// Observer receives step and run timings. Optional.
	Observer Observer
}

// Provisioner creates, registers and configures machines on one host.
// It is safe for concurrent use by runs for different machine names.
type Provisioner struct {
	host       hostClient
	workingDir string
	fs         afero.Fs
	log        logr.Logger
	observer   Observer
}

// NewProvisioner creates a Provisioner for host.
func NewProvisioner(host *anvillibvirt.Host, opts Options) *Provisioner {
	return newProvisioner(libvirtHost{host}, opts)
}

func newProvisioner(host hostClient, opts Options) *Provisioner {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Provisioner{
		host:       host,
		workingDir: opts.WorkingDir,
		fs:         opts.Fs,
		log:        opts.Logger,
		observer:   opts.Observer,
	}
}

// CreateAndRegister ensures a machine matching vm exists on the host and is
// fully configured, creating it only if no machine with that name is
// registered.
//
// Errors:
//   - ErrInvalidSpecification: the resource is unusable; the host was not called
//   - ErrPreconditionViolation: the name is taken; nothing was changed
//   - *StepError: a host step failed; earlier steps are left in place
//   - anything else: the existence probe failed
func (p *Provisioner) CreateAndRegister(ctx context.Context, vm *v1alpha1.VirtualMachine) (*anvillibvirt.Machine, error) {
	if vm == nil {
		return nil, fmt.Errorf("%w: virtual machine cannot be nil", ErrInvalidSpecification)
	}
	return p.provision(ctx, prepare(vm))
}

// Provision is CreateAndRegister returning the resource with its status
// filled in. The returned resource is a normalized copy of vm and is
// non-nil whenever vm is, also on error.
func (p *Provisioner) Provision(ctx context.Context, vm *v1alpha1.VirtualMachine) (*v1alpha1.VirtualMachine, error) {
	if vm == nil {
		return nil, fmt.Errorf("%w: virtual machine cannot be nil", ErrInvalidSpecification)
	}
	out := prepare(vm)
	_, err := p.provision(ctx, out)
	return out, err
}

func prepare(vm *v1alpha1.VirtualMachine) *v1alpha1.VirtualMachine {
	out := vm.DeepCopy()
	out.Normalize()
	v1alpha1.SetDefaultAPIVersion(out)
	out.Status = v1alpha1.VirtualMachineStatus{}
	return out
}

// provision runs PROBE -> CREATE -> CONFIGURE -> DONE on vm, recording the
// progress in vm.Status.
func (p *Provisioner) provision(ctx context.Context, vm *v1alpha1.VirtualMachine) (*anvillibvirt.Machine, error) {
	start := time.Now()
	log := p.log.WithValues("machine", vm.Name)
	defer func() {
		p.observer.ObserveOutcome(vm.Status.Phase, time.Since(start))
	}()

	if err := status.TransitionToProbe(vm); err != nil {
		return nil, err
	}

	seedSlot, err := validate(vm)
	if err != nil {
		p.fail(log, vm, "InvalidSpecification", err)
		return nil, err
	}

	var exists bool
	err = p.observe(StepProbe, func() error {
		var err error
		exists, err = probeMachine(ctx, p.host, vm.Name)
		return err
	})
	if err != nil {
		p.fail(log, vm, "ProbeFailed", err)
		return nil, err
	}
	if exists {
		err := fmt.Errorf("%w: %s", ErrPreconditionViolation, vm.Name)
		_ = status.TransitionToRejected(vm, err.Error())
		log.Info("machine already registered, nothing to do")
		return nil, err
	}

	if err := status.TransitionToCreate(vm); err != nil {
		return nil, err
	}
	vm.CreationTimestamp = v1alpha1.Now()
	log.Info("creating machine", "vmId", vm.Spec.VMID, "osType", vm.Spec.OSTypeID)

	machine, err := p.createMachine(ctx, vm)
	if err != nil {
		p.fail(log, vm, "CreateFailed", err)
		return nil, err
	}

	var seed *v1alpha1.ISOImage
	if seedSlot != nil {
		seed, err = p.writeSeed(vm, *seedSlot)
		if err != nil {
			p.fail(log, vm, "SeedFailed", err)
			return nil, err
		}
	}

	if err := status.TransitionToConfigure(vm, machine.UUID, machine.SettingsFile); err != nil {
		return nil, err
	}
	log.V(1).Info("machine registered", "uuid", machine.UUID, "settingsFile", machine.SettingsFile)

	if err := p.configure(ctx, log, vm, seed); err != nil {
		p.fail(log, vm, "ConfigureFailed", err)
		return nil, err
	}

	if err := status.TransitionToDone(vm); err != nil {
		return nil, err
	}
	log.Info("machine provisioned", "uuid", machine.UUID, "duration", time.Since(start).String())

	return machine, nil
}

// fail moves vm to Failed and logs err.
func (p *Provisioner) fail(log logr.Logger, vm *v1alpha1.VirtualMachine, reason string, err error) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		log = log.WithValues("step", string(stepErr.Step))
	}
	log.Error(err, "provisioning failed", "phase", string(vm.Status.Phase))
	_ = status.TransitionToFailed(vm, reason, err.Error())
}

// observe runs fn and reports its duration under step.
func (p *Provisioner) observe(step Step, fn func() error) error {
	start := time.Now()
	err := fn()
	p.observer.ObserveStep(string(step), time.Since(start), err)
	return err
}
