package vm

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/cloudinit"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/storage"
)

// validate checks what must hold before the host is touched. When the
// machine has a cloud-init section it also picks the boot controller slot
// for the seed ISO.
func validate(vm *v1alpha1.VirtualMachine) (*v1alpha1.DeviceDetails, error) {
	if vm.Name == "" {
		return nil, fmt.Errorf("%w: metadata.name is required", ErrInvalidSpecification)
	}
	if strings.ContainsAny(vm.Name, `/\`) || vm.Name == "." || vm.Name == ".." {
		return nil, fmt.Errorf("%w: machine name %q is not a valid file name", ErrInvalidSpecification, vm.Name)
	}
	if mib := vm.Spec.MemoryMiB; mib < anvillibvirt.MinMemoryMiB || mib > anvillibvirt.MaxMemoryMiB {
		return nil, fmt.Errorf("%w: memoryMiB %d is outside [%d, %d]",
			ErrInvalidSpecification, mib, anvillibvirt.MinMemoryMiB, anvillibvirt.MaxMemoryMiB)
	}

	boot := vm.BootController()
	if boot == nil {
		return nil, fmt.Errorf("%w: at least one storage controller is required", ErrInvalidSpecification)
	}
	if !boot.Bus.IsBootCompatible() {
		return nil, fmt.Errorf("%w: first storage controller %q uses bus %q, which cannot carry boot media (want ide, sata or scsi)",
			ErrInvalidSpecification, boot.Name, boot.Bus)
	}

	if vm.Spec.CloudInit == nil {
		return nil, nil
	}

	used := make([]v1alpha1.DeviceDetails, 0, len(boot.HardDisks)+len(boot.ISOImages))
	for _, d := range boot.HardDisks {
		used = append(used, d.Device)
	}
	for _, iso := range boot.ISOImages {
		used = append(used, iso.Device)
	}
	slot, ok := anvillibvirt.FreeSlot(boot.Bus, used)
	if !ok {
		return nil, fmt.Errorf("%w: no free slot on controller %q for the cloud-init seed ISO", ErrInvalidSpecification, boot.Name)
	}
	slot.Type = v1alpha1.DeviceTypeDVD
	return &slot, nil
}

// writeSeed writes the cloud-init seed ISO next to the settings file and
// returns it as an ISO image for the given slot.
func (p *Provisioner) writeSeed(vm *v1alpha1.VirtualMachine, slot v1alpha1.DeviceDetails) (*v1alpha1.ISOImage, error) {
	path := naming.SeedISOPath(p.workingDir, vm.Name)
	err := p.observe(StepSeed, func() error {
		return cloudinit.WriteSeedISO(p.fs, path, vm)
	})
	if err != nil {
		return nil, stepError(vm.Name, StepSeed, path, err)
	}
	return &v1alpha1.ISOImage{SourcePath: path, Device: slot}, nil
}

// configure applies the configuration steps in their fixed order: memory,
// boot controller, hard disks, ISO images (seed last) and NAT adapters by
// ascending slot. The first failure stops the run; earlier steps stay
// applied.
func (p *Provisioner) configure(ctx context.Context, log logr.Logger, vm *v1alpha1.VirtualMachine, seed *v1alpha1.ISOImage) error {
	name := vm.Name
	boot := vm.BootController()

	err := p.locked(ctx, name, StepMemory, "", func(s Session) error {
		return s.SetMemory(vm.Spec.MemoryMiB)
	})
	if err != nil {
		return err
	}

	for _, ctrl := range vm.Spec.StorageControllers[1:] {
		log.Info("ignoring storage controller, only the first is configured", "controller", ctrl.Name, "bus", ctrl.Bus)
	}

	err = p.locked(ctx, name, StepController, boot.Name, func(s Session) error {
		return s.AddStorageController(boot.Name, boot.Bus)
	})
	if err != nil {
		return err
	}

	for _, disk := range boot.HardDisks {
		if err := p.attachHardDisk(ctx, log, name, boot.Name, disk); err != nil {
			return err
		}
	}

	isos := boot.ISOImages
	if seed != nil {
		isos = append(append([]v1alpha1.ISOImage(nil), isos...), *seed)
	}
	for _, iso := range isos {
		force := vm.Spec.ForceOverwrite || (seed != nil && iso.SourcePath == seed.SourcePath)
		if err := p.attachISO(ctx, name, boot.Name, iso, force); err != nil {
			return err
		}
	}

	for _, slot := range vm.SortedNATSlots() {
		adapter := vm.Spec.NATAdapters[slot]
		err := p.locked(ctx, name, StepAttachAdapter, fmt.Sprintf("slot %d", slot), func(s Session) error {
			return s.ConfigureNATAdapter(slot, adapter)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Provisioner) attachHardDisk(ctx context.Context, log logr.Logger, machine, controller string, disk v1alpha1.HardDisk) error {
	p.removeStrayDisk(log, disk.DiskPath)

	var medium *anvillibvirt.Medium
	err := p.observe(StepCreateMedium, func() error {
		var err error
		medium, err = p.host.CreateMedium(ctx, anvillibvirt.MediumRequest{
			Path:   disk.DiskPath,
			Format: storage.VolumeFormat(disk.Format),
			SizeGB: disk.SizeGB,
		})
		return err
	})
	if err != nil {
		return stepError(machine, StepCreateMedium, disk.DiskPath, err)
	}

	return p.locked(ctx, machine, StepAttachDisk, disk.DiskPath, func(s Session) error {
		return s.AttachDevice(controller, disk.Device, medium)
	})
}

func (p *Provisioner) attachISO(ctx context.Context, machine, controller string, iso v1alpha1.ISOImage, forceRefresh bool) error {
	var medium *anvillibvirt.Medium
	err := p.observe(StepOpenMedium, func() error {
		var err error
		medium, err = p.host.OpenMedium(ctx, iso.SourcePath, v1alpha1.DeviceTypeDVD, anvillibvirt.AccessReadOnly, forceRefresh)
		return err
	})
	if err != nil {
		return stepError(machine, StepOpenMedium, iso.SourcePath, err)
	}

	return p.locked(ctx, machine, StepAttachISO, iso.SourcePath, func(s Session) error {
		return s.AttachDevice(controller, iso.Device, medium)
	})
}

// removeStrayDisk deletes a file left at a disk path by an earlier run.
// Failures are logged, never returned.
func (p *Provisioner) removeStrayDisk(log logr.Logger, path string) {
	exists, err := afero.Exists(p.fs, path)
	if err != nil {
		log.Error(err, "could not delete stray disk file", "path", path)
		return
	}
	if !exists {
		return
	}
	if err := p.fs.Remove(path); err != nil {
		log.Error(err, "could not delete stray disk file", "path", path)
		return
	}
	log.V(1).Info("removed stray disk file", "path", path)
}

// locked runs applyLocked and records its timing.
func (p *Provisioner) locked(ctx context.Context, machine string, step Step, target string, mutation func(Session) error) error {
	return p.observe(step, func() error {
		return applyLocked(ctx, p.host, machine, step, target, mutation)
	})
}
