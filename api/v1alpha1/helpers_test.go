package v1alpha1

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestNewVirtualMachine(t *testing.T) {
	vm := NewVirtualMachine("node1")

	if vm.APIVersion != "anvil.cofront.xyz/v1alpha1" {
		t.Errorf("Expected APIVersion 'anvil.cofront.xyz/v1alpha1', got %s", vm.APIVersion)
	}
	if vm.Kind != "VirtualMachine" {
		t.Errorf("Expected Kind 'VirtualMachine', got %s", vm.Kind)
	}
	if vm.Name != "node1" {
		t.Errorf("Expected Name node1, got %s", vm.Name)
	}
	if _, err := uuid.Parse(vm.Spec.VMID); err != nil {
		t.Errorf("Expected VMID to be a UUID, got %q: %v", vm.Spec.VMID, err)
	}
}

func TestSetDefaultAPIVersion(t *testing.T) {
	vm := &VirtualMachine{TypeMeta: TypeMeta{Kind: "Other"}}
	SetDefaultAPIVersion(vm)

	if vm.APIVersion != APIVersion() {
		t.Errorf("APIVersion = %s, want %s", vm.APIVersion, APIVersion())
	}
	if vm.Kind != "Other" {
		t.Errorf("Kind should not be overwritten, got %s", vm.Kind)
	}
}

func TestBusType(t *testing.T) {
	tests := []struct {
		bus   BusType
		boot  bool
		valid bool
	}{
		{BusIDE, true, true},
		{BusSATA, true, true},
		{BusSCSI, true, true},
		{BusVirtio, false, true},
		{BusType("floppy"), false, false},
		{BusType(""), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.bus), func(t *testing.T) {
			if got := tt.bus.IsBootCompatible(); got != tt.boot {
				t.Errorf("IsBootCompatible() = %v, want %v", got, tt.boot)
			}
			if got := tt.bus.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestBootController(t *testing.T) {
	vm := &VirtualMachine{}
	if vm.BootController() != nil {
		t.Error("BootController() should be nil without controllers")
	}

	vm.Spec.StorageControllers = []StorageController{{Name: "first"}, {Name: "second"}}
	if got := vm.BootController(); got == nil || got.Name != "first" {
		t.Errorf("BootController() = %+v, want first", got)
	}
}

func TestSortedNATSlots(t *testing.T) {
	vm := &VirtualMachine{Spec: VirtualMachineSpec{
		NATAdapters: map[uint32]NATAdapter{3: {}, 0: {}, 1: {}},
	}}

	got := vm.SortedNATSlots()
	want := []uint32{0, 1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortedNATSlots() = %v, want %v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	vm := &VirtualMachine{
		ObjectMeta: ObjectMeta{Name: "  node1 "},
		Spec: VirtualMachineSpec{
			VMID: " 6F1C2A4E-0D55-4D43-9B7E-3A5A8F1C2B11 ",
			StorageControllers: []StorageController{{
				Name:      "ctrl",
				Bus:       "IDE",
				HardDisks: []HardDisk{{DiskPath: "/vms/disk.qcow2"}},
				ISOImages: []ISOImage{{SourcePath: "/isos/a.iso"}},
			}},
			NATAdapters: map[uint32]NATAdapter{
				0: {MACAddress: "BE:EF:00:00:00:01", RedirectRules: []RedirectRule{{HostPort: 2222, GuestPort: 22}}},
			},
			CloudInit: &CloudInitSpec{FQDN: " Node1.Example.COM "},
		},
	}

	vm.Normalize()

	if vm.Name != "node1" {
		t.Errorf("Name = %q, want node1", vm.Name)
	}
	if vm.Spec.VMID != "6f1c2a4e-0d55-4d43-9b7e-3a5a8f1c2b11" {
		t.Errorf("VMID = %q, want lowercase trimmed uuid", vm.Spec.VMID)
	}
	ctrl := vm.Spec.StorageControllers[0]
	if ctrl.Bus != BusIDE {
		t.Errorf("Bus = %q, want ide", ctrl.Bus)
	}
	disk := ctrl.HardDisks[0]
	if disk.Format != DefaultDiskFormat || disk.SizeGB != DefaultDiskSizeGB || disk.Device.Type != DeviceTypeHardDisk {
		t.Errorf("disk defaults not applied: %+v", disk)
	}
	if ctrl.ISOImages[0].Device.Type != DeviceTypeDVD {
		t.Errorf("iso device type = %q, want dvd", ctrl.ISOImages[0].Device.Type)
	}
	nat := vm.Spec.NATAdapters[0]
	if nat.Model != DefaultNICModel {
		t.Errorf("Model = %q, want %q", nat.Model, DefaultNICModel)
	}
	if nat.MACAddress != "be:ef:00:00:00:01" {
		t.Errorf("MACAddress = %q, want lowercase", nat.MACAddress)
	}
	if nat.RedirectRules[0].Protocol != "tcp" {
		t.Errorf("Protocol = %q, want tcp", nat.RedirectRules[0].Protocol)
	}
	if vm.Spec.CloudInit.FQDN != "node1.example.com" {
		t.Errorf("FQDN = %q, want node1.example.com", vm.Spec.CloudInit.FQDN)
	}
}

func TestNormalize_GeneratesVMID(t *testing.T) {
	vm := &VirtualMachine{ObjectMeta: ObjectMeta{Name: "node1"}}
	vm.Normalize()

	if _, err := uuid.Parse(vm.Spec.VMID); err != nil {
		t.Errorf("VMID = %q, want generated uuid: %v", vm.Spec.VMID, err)
	}
}
