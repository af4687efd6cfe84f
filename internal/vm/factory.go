package vm

import (
	"context"

	"github.com/jbweber/anvil/api/v1alpha1"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
)

// createMachine builds the machine's settings file and registers it with
// the host. It is not idempotent on its own: callers probe first.
func (p *Provisioner) createMachine(ctx context.Context, vm *v1alpha1.VirtualMachine) (*anvillibvirt.Machine, error) {
	settingsFile := p.host.ComposeSettingsPath(vm.Name, p.workingDir)

	var draft *anvillibvirt.MachineDraft
	err := p.observe(StepCreate, func() error {
		var err error
		draft, err = p.host.CreateMachine(ctx, anvillibvirt.MachineSettings{
			SettingsFile: settingsFile,
			Name:         vm.Name,
			OSTypeID:     vm.Spec.OSTypeID,
			VMID:         vm.Spec.VMID,
			Overwrite:    vm.Spec.ForceOverwrite,
			Resource:     vm,
		})
		return err
	})
	if err != nil {
		return nil, stepError(vm.Name, StepCreate, settingsFile, err)
	}

	var machine *anvillibvirt.Machine
	err = p.observe(StepRegister, func() error {
		var err error
		machine, err = p.host.RegisterMachine(ctx, draft)
		return err
	})
	if err != nil {
		return nil, stepError(vm.Name, StepRegister, "", err)
	}

	return machine, nil
}
