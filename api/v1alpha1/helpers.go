package v1alpha1

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for anvil resources.
	GroupName = "anvil.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// VirtualMachineKind is the kind string for VirtualMachine resources.
	VirtualMachineKind = "VirtualMachine"

	// DefaultDiskFormat is used for hard disks without an explicit format.
	DefaultDiskFormat = "qcow2"

	// DefaultDiskSizeGB is used for hard disks without an explicit size.
	DefaultDiskSizeGB = 8

	// DefaultNICModel is used for NAT adapters without an explicit model.
	DefaultNICModel = "virtio"
)

// APIVersion returns the full apiVersion string, "anvil.cofront.xyz/v1alpha1".
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewVirtualMachine creates a VirtualMachine with TypeMeta set and a fresh VMID.
func NewVirtualMachine(name string) *VirtualMachine {
	return &VirtualMachine{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       VirtualMachineKind,
		},
		ObjectMeta: ObjectMeta{
			Name:       name,
			UID:        uuid.New().String(),
			Generation: 1,
		},
		Spec: VirtualMachineSpec{
			VMID: uuid.New().String(),
		},
	}
}

// SetDefaultAPIVersion ensures the VM has the correct apiVersion and kind.
func SetDefaultAPIVersion(vm *VirtualMachine) {
	if vm.APIVersion == "" {
		vm.APIVersion = APIVersion()
	}
	if vm.Kind == "" {
		vm.Kind = VirtualMachineKind
	}
}

// IsBootCompatible reports whether a controller on this bus can carry boot
// media, including optical drives.
func (b BusType) IsBootCompatible() bool {
	switch b {
	case BusIDE, BusSATA, BusSCSI:
		return true
	default:
		return false
	}
}

// IsValid reports whether b is a known bus type.
func (b BusType) IsValid() bool {
	return b.IsBootCompatible() || b == BusVirtio
}

// BootController returns the first storage controller, or nil if none.
func (vm *VirtualMachine) BootController() *StorageController {
	if len(vm.Spec.StorageControllers) == 0 {
		return nil
	}
	return &vm.Spec.StorageControllers[0]
}

// SortedNATSlots returns the NAT adapter slots in ascending order.
func (vm *VirtualMachine) SortedNATSlots() []uint32 {
	slots := make([]uint32, 0, len(vm.Spec.NATAdapters))
	for slot := range vm.Spec.NATAdapters {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// SetPhase sets the VM phase in status.
func (vm *VirtualMachine) SetPhase(phase Phase) {
	vm.Status.Phase = phase
}

// Normalize sanitizes user input to consistent formats and fills defaults.
// It does not validate.
func (vm *VirtualMachine) Normalize() {
	vm.Name = strings.TrimSpace(vm.Name)
	vm.Spec.VMID = strings.ToLower(strings.TrimSpace(vm.Spec.VMID))
	if vm.Spec.VMID == "" {
		vm.Spec.VMID = uuid.New().String()
	}

	for i := range vm.Spec.StorageControllers {
		ctrl := &vm.Spec.StorageControllers[i]
		ctrl.Bus = BusType(strings.ToLower(string(ctrl.Bus)))
		for j := range ctrl.HardDisks {
			disk := &ctrl.HardDisks[j]
			if disk.Format == "" {
				disk.Format = DefaultDiskFormat
			}
			if disk.SizeGB == 0 {
				disk.SizeGB = DefaultDiskSizeGB
			}
			if disk.Device.Type == "" {
				disk.Device.Type = DeviceTypeHardDisk
			}
		}
		for j := range ctrl.ISOImages {
			if ctrl.ISOImages[j].Device.Type == "" {
				ctrl.ISOImages[j].Device.Type = DeviceTypeDVD
			}
		}
	}

	for slot, adapter := range vm.Spec.NATAdapters {
		if adapter.Model == "" {
			adapter.Model = DefaultNICModel
		}
		adapter.MACAddress = strings.ToLower(adapter.MACAddress)
		for i := range adapter.RedirectRules {
			if adapter.RedirectRules[i].Protocol == "" {
				adapter.RedirectRules[i].Protocol = "tcp"
			}
		}
		vm.Spec.NATAdapters[slot] = adapter
	}

	if vm.Spec.CloudInit != nil {
		vm.Spec.CloudInit.FQDN = strings.ToLower(strings.TrimSpace(vm.Spec.CloudInit.FQDN))
	}
}
