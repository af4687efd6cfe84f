package v1alpha1

import (
	"testing"

	"gopkg.in/yaml.v3"
)

const node1YAML = `
apiVersion: anvil.cofront.xyz/v1alpha1
kind: VirtualMachine
metadata:
  name: node1
spec:
  osTypeId: ubuntu22.04
  vmId: 6f1c2a4e-0d55-4d43-9b7e-3a5a8f1c2b11
  memoryMiB: 512
  storageControllers:
    - name: IDE Controller
      bus: ide
      hardDisks:
        - diskPath: /tmp/vms/node1/disk.qcow2
          device: {port: 0, device: 1, deviceType: hdd}
      isoImages:
        - sourcePath: /tmp/isos/ubuntu.iso
          device: {port: 0, device: 0, deviceType: dvd}
  natAdapters:
    0:
      redirectRules:
        - {hostPort: 2222, guestPort: 22}
`

func TestVirtualMachine_UnmarshalYAML(t *testing.T) {
	var vm VirtualMachine
	if err := yaml.Unmarshal([]byte(node1YAML), &vm); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}

	if vm.Name != "node1" {
		t.Errorf("Name = %q, want node1", vm.Name)
	}
	if vm.Spec.MemoryMiB != 512 {
		t.Errorf("MemoryMiB = %d, want 512", vm.Spec.MemoryMiB)
	}
	if len(vm.Spec.StorageControllers) != 1 {
		t.Fatalf("len(StorageControllers) = %d, want 1", len(vm.Spec.StorageControllers))
	}
	ctrl := vm.Spec.StorageControllers[0]
	if ctrl.Bus != BusIDE {
		t.Errorf("Bus = %q, want ide", ctrl.Bus)
	}
	if ctrl.HardDisks[0].Device.Device != 1 {
		t.Errorf("HardDisks[0].Device.Device = %d, want 1", ctrl.HardDisks[0].Device.Device)
	}
	if ctrl.ISOImages[0].Device.Type != DeviceTypeDVD {
		t.Errorf("ISOImages[0].Device.Type = %q, want dvd", ctrl.ISOImages[0].Device.Type)
	}
	nat, ok := vm.Spec.NATAdapters[0]
	if !ok {
		t.Fatal("expected NAT adapter in slot 0")
	}
	if len(nat.RedirectRules) != 1 || nat.RedirectRules[0].HostPort != 2222 {
		t.Errorf("RedirectRules = %+v, want one rule on host port 2222", nat.RedirectRules)
	}
}

func TestVirtualMachine_DeepCopy(t *testing.T) {
	var original VirtualMachine
	if err := yaml.Unmarshal([]byte(node1YAML), &original); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	original.Spec.CloudInit = &CloudInitSpec{SSHAuthorizedKeys: []string{"ssh-ed25519 AAAA"}}
	original.Status.Conditions = []Condition{{Type: ConditionRegistered, Status: ConditionTrue}}

	copied := original.DeepCopy()

	copied.Spec.StorageControllers[0].Name = "changed"
	copied.Spec.StorageControllers[0].HardDisks[0].DiskPath = "/elsewhere"
	copied.Spec.StorageControllers[0].ISOImages[0].SourcePath = "/elsewhere.iso"
	nat := copied.Spec.NATAdapters[0]
	nat.RedirectRules[0].HostPort = 1
	copied.Spec.CloudInit.SSHAuthorizedKeys[0] = "changed"
	copied.Status.Conditions[0].Status = ConditionFalse

	if original.Spec.StorageControllers[0].Name != "IDE Controller" {
		t.Error("modifying copy controller name affected original")
	}
	if original.Spec.StorageControllers[0].HardDisks[0].DiskPath != "/tmp/vms/node1/disk.qcow2" {
		t.Error("modifying copy disk path affected original")
	}
	if original.Spec.StorageControllers[0].ISOImages[0].SourcePath != "/tmp/isos/ubuntu.iso" {
		t.Error("modifying copy iso path affected original")
	}
	if original.Spec.NATAdapters[0].RedirectRules[0].HostPort != 2222 {
		t.Error("modifying copy redirect rule affected original")
	}
	if original.Spec.CloudInit.SSHAuthorizedKeys[0] != "ssh-ed25519 AAAA" {
		t.Error("modifying copy cloud-init keys affected original")
	}
	if original.Status.Conditions[0].Status != ConditionTrue {
		t.Error("modifying copy conditions affected original")
	}
}

func TestVirtualMachine_DeepCopy_Nil(t *testing.T) {
	var vm *VirtualMachine
	if vm.DeepCopy() != nil {
		t.Error("DeepCopy() of nil should return nil")
	}

	empty := &VirtualMachine{}
	copied := empty.DeepCopy()
	if copied.Spec.StorageControllers != nil || copied.Spec.NATAdapters != nil || copied.Spec.CloudInit != nil {
		t.Error("DeepCopy() of empty VM should keep nil collections nil")
	}
}
