package v1alpha1

// VirtualMachine is the declarative description of a machine that anvil
// creates, registers and configures on a libvirt host.
//
// Spec is the desired state. Status is filled in by anvil when the machine is
// provisioned and is ignored on input.
type VirtualMachine struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// ObjectMeta carries the machine name, which is the unique key on the host.
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec VirtualMachineSpec `json:"spec" yaml:"spec"`

	// +optional
	Status VirtualMachineStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// VirtualMachineSpec defines the desired state of a VirtualMachine.
type VirtualMachineSpec struct {
	// OSTypeID is the guest OS identifier, recorded as the libosinfo id of
	// the domain (e.g. "http://fedoraproject.org/fedora/43" or "fedora43").
	OSTypeID string `json:"osTypeId" yaml:"osTypeId"`

	// VMID is the machine UUID. Generated when empty.
	// +optional
	VMID string `json:"vmId,omitempty" yaml:"vmId,omitempty"`

	// ForceOverwrite allows replacing an existing settings file at the
	// composed settings path and forces a fresh read of opened media.
	// +optional
	ForceOverwrite bool `json:"forceOverwrite,omitempty" yaml:"forceOverwrite,omitempty"`

	// MemoryMiB is the guest memory in mebibytes.
	MemoryMiB uint64 `json:"memoryMiB" yaml:"memoryMiB"`

	// StorageControllers is the ordered controller list. The first entry is
	// the boot controller and must use a boot-compatible bus.
	StorageControllers []StorageController `json:"storageControllers" yaml:"storageControllers"`

	// NATAdapters maps adapter slot to NAT adapter configuration.
	// +optional
	NATAdapters map[uint32]NATAdapter `json:"natAdapters,omitempty" yaml:"natAdapters,omitempty"`

	// CloudInit, when set, causes a NoCloud seed ISO to be generated and
	// attached to the boot controller after the listed ISO images.
	// +optional
	CloudInit *CloudInitSpec `json:"cloudInit,omitempty" yaml:"cloudInit,omitempty"`
}

// BusType is the bus a storage controller provides.
type BusType string

const (
	BusIDE    BusType = "ide"
	BusSATA   BusType = "sata"
	BusSCSI   BusType = "scsi"
	BusVirtio BusType = "virtio"
)

// StorageController describes a named controller and the media attached to it.
type StorageController struct {
	// Name identifies the controller within the machine.
	Name string `json:"name" yaml:"name"`

	// Bus is one of ide, sata, scsi, virtio.
	Bus BusType `json:"bus" yaml:"bus"`

	// +optional
	HardDisks []HardDisk `json:"hardDisks,omitempty" yaml:"hardDisks,omitempty"`

	// +optional
	ISOImages []ISOImage `json:"isoImages,omitempty" yaml:"isoImages,omitempty"`
}

// HardDisk is a writable disk created at DiskPath and attached to a slot.
type HardDisk struct {
	// DiskPath is the absolute path of the disk image on the host. Any file
	// already present there is removed before the disk is created.
	DiskPath string `json:"diskPath" yaml:"diskPath"`

	// Format is qcow2 (default) or raw.
	// +optional
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// SizeGB is the virtual size of the disk. Defaults to 8.
	// +optional
	SizeGB uint64 `json:"sizeGB,omitempty" yaml:"sizeGB,omitempty"`

	Device DeviceDetails `json:"device" yaml:"device"`
}

// ISOImage is a read-only optical image attached to a slot.
type ISOImage struct {
	// SourcePath is the absolute path of an existing ISO9660 image.
	SourcePath string `json:"sourcePath" yaml:"sourcePath"`

	Device DeviceDetails `json:"device" yaml:"device"`
}

// DeviceType is the kind of device a slot holds.
type DeviceType string

const (
	DeviceTypeHardDisk DeviceType = "hdd"
	DeviceTypeDVD      DeviceType = "dvd"
)

// DeviceDetails locates a slot on a controller.
type DeviceDetails struct {
	Port   uint32     `json:"port" yaml:"port"`
	Device uint32     `json:"device" yaml:"device"`
	Type   DeviceType `json:"deviceType" yaml:"deviceType"`
}

// NATAdapter configures a user-mode NAT network adapter.
type NATAdapter struct {
	// Model is the NIC model. Defaults to virtio.
	// +optional
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MACAddress is derived from the machine UUID and slot when empty.
	// +optional
	MACAddress string `json:"macAddress,omitempty" yaml:"macAddress,omitempty"`

	// RedirectRules forward host ports into the guest.
	// +optional
	RedirectRules []RedirectRule `json:"redirectRules,omitempty" yaml:"redirectRules,omitempty"`
}

// RedirectRule forwards HostIP:HostPort on the host to GuestPort in the guest.
type RedirectRule struct {
	// Protocol is tcp (default) or udp.
	// +optional
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`

	// +optional
	HostIP string `json:"hostIP,omitempty" yaml:"hostIP,omitempty"`

	HostPort  uint16 `json:"hostPort" yaml:"hostPort"`
	GuestPort uint16 `json:"guestPort" yaml:"guestPort"`
}

// CloudInitSpec defines the contents of a NoCloud seed ISO.
type CloudInitSpec struct {
	// FQDN is the fully qualified domain name; the hostname is derived from it.
	// +optional
	FQDN string `json:"fqdn,omitempty" yaml:"fqdn,omitempty"`

	// +optional
	SSHAuthorizedKeys []string `json:"sshAuthorizedKeys,omitempty" yaml:"sshAuthorizedKeys,omitempty"`

	// PasswordHash is a crypt(3) hash for the root user.
	// +optional
	PasswordHash string `json:"passwordHash,omitempty" yaml:"passwordHash,omitempty"`

	// +optional
	SSHPasswordAuth bool `json:"sshPasswordAuth,omitempty" yaml:"sshPasswordAuth,omitempty"`
}

// VirtualMachineStatus is the observed state after provisioning.
type VirtualMachineStatus struct {
	// +optional
	Phase Phase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// DomainUUID is the UUID of the registered libvirt domain.
	// +optional
	DomainUUID string `json:"domainUUID,omitempty" yaml:"domainUUID,omitempty"`

	// SettingsFile is the path of the machine settings file on the host.
	// +optional
	SettingsFile string `json:"settingsFile,omitempty" yaml:"settingsFile,omitempty"`
}

// Phase is the provisioning phase of a VirtualMachine.
type Phase string

const (
	// PhaseProbe: checking whether the name is already registered.
	PhaseProbe Phase = "Probe"

	// PhaseCreate: building and registering the machine.
	PhaseCreate Phase = "Create"

	// PhaseConfigure: applying configuration steps under the machine lock.
	PhaseConfigure Phase = "Configure"

	// PhaseDone: the machine is registered and fully configured.
	PhaseDone Phase = "Done"

	// PhaseRejected: a machine with the same name was already registered.
	PhaseRejected Phase = "Rejected"

	// PhaseFailed: a step failed. The machine may be partially configured.
	PhaseFailed Phase = "Failed"
)

// Condition types reported on a provisioned VirtualMachine.
const (
	// ConditionRegistered is True once the machine is defined on the host.
	ConditionRegistered = "Registered"

	// ConditionConfigured is True once every configuration step succeeded.
	ConditionConfigured = "Configured"
)

// DeepCopy creates a deep copy of VirtualMachine.
func (in *VirtualMachine) DeepCopy() *VirtualMachine {
	if in == nil {
		return nil
	}
	out := new(VirtualMachine)
	out.TypeMeta = in.TypeMeta
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = *in.Spec.DeepCopy()
	out.Status = *in.Status.DeepCopy()
	return out
}

// DeepCopy creates a deep copy of VirtualMachineSpec.
func (in *VirtualMachineSpec) DeepCopy() *VirtualMachineSpec {
	if in == nil {
		return nil
	}
	out := new(VirtualMachineSpec)
	*out = *in

	if in.StorageControllers != nil {
		out.StorageControllers = make([]StorageController, len(in.StorageControllers))
		for i := range in.StorageControllers {
			out.StorageControllers[i] = *in.StorageControllers[i].DeepCopy()
		}
	}

	if in.NATAdapters != nil {
		out.NATAdapters = make(map[uint32]NATAdapter, len(in.NATAdapters))
		for slot, adapter := range in.NATAdapters {
			out.NATAdapters[slot] = *adapter.DeepCopy()
		}
	}

	if in.CloudInit != nil {
		out.CloudInit = in.CloudInit.DeepCopy()
	}

	return out
}

// DeepCopy creates a deep copy of StorageController.
func (in *StorageController) DeepCopy() *StorageController {
	if in == nil {
		return nil
	}
	out := new(StorageController)
	*out = *in
	if in.HardDisks != nil {
		out.HardDisks = make([]HardDisk, len(in.HardDisks))
		copy(out.HardDisks, in.HardDisks)
	}
	if in.ISOImages != nil {
		out.ISOImages = make([]ISOImage, len(in.ISOImages))
		copy(out.ISOImages, in.ISOImages)
	}
	return out
}

// DeepCopy creates a deep copy of NATAdapter.
func (in *NATAdapter) DeepCopy() *NATAdapter {
	if in == nil {
		return nil
	}
	out := new(NATAdapter)
	*out = *in
	if in.RedirectRules != nil {
		out.RedirectRules = make([]RedirectRule, len(in.RedirectRules))
		copy(out.RedirectRules, in.RedirectRules)
	}
	return out
}

// DeepCopy creates a deep copy of CloudInitSpec.
func (in *CloudInitSpec) DeepCopy() *CloudInitSpec {
	if in == nil {
		return nil
	}
	out := new(CloudInitSpec)
	*out = *in
	if in.SSHAuthorizedKeys != nil {
		out.SSHAuthorizedKeys = make([]string, len(in.SSHAuthorizedKeys))
		copy(out.SSHAuthorizedKeys, in.SSHAuthorizedKeys)
	}
	return out
}

// DeepCopy creates a deep copy of VirtualMachineStatus.
func (in *VirtualMachineStatus) DeepCopy() *VirtualMachineStatus {
	if in == nil {
		return nil
	}
	out := new(VirtualMachineStatus)
	*out = *in
	if in.Conditions != nil {
		out.Conditions = make([]Condition, len(in.Conditions))
		copy(out.Conditions, in.Conditions)
	}
	return out
}
