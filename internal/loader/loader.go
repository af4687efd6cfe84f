// Package loader provides functions for loading VirtualMachine resources
// from YAML files and JSON request bodies.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// ErrValidation is wrapped by every error Validate returns.
var ErrValidation = errors.New("validation failed")

// LoadFromFile loads a VirtualMachine resource from a YAML file on fs.
// The file must be in the anvil.cofront.xyz/v1alpha1 format.
func LoadFromFile(fs afero.Fs, path string) (*v1alpha1.VirtualMachine, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML loads a VirtualMachine resource from YAML bytes, applies
// defaults and validates it. Any status in the input is dropped.
func LoadFromYAML(data []byte) (*v1alpha1.VirtualMachine, error) {
	var vm v1alpha1.VirtualMachine
	if err := yaml.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return finish(&vm)
}

// LoadFromJSON is LoadFromYAML for JSON documents, where natAdapters keys
// arrive as strings.
func LoadFromJSON(data []byte) (*v1alpha1.VirtualMachine, error) {
	var vm v1alpha1.VirtualMachine
	if err := json.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return finish(&vm)
}

func finish(vm *v1alpha1.VirtualMachine) (*v1alpha1.VirtualMachine, error) {
	if err := checkTypeMeta(vm); err != nil {
		return nil, err
	}

	vm.Normalize()
	vm.Status = v1alpha1.VirtualMachineStatus{}

	if err := Validate(vm); err != nil {
		return nil, err
	}

	return vm, nil
}

// SaveToFile saves a VirtualMachine resource to a YAML file on fs.
func SaveToFile(fs afero.Fs, vm *v1alpha1.VirtualMachine, path string) error {
	// Ensure TypeMeta is set
	v1alpha1.SetDefaultAPIVersion(vm)

	data, err := yaml.Marshal(vm)
	if err != nil {
		return fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

func checkTypeMeta(vm *v1alpha1.VirtualMachine) error {
	if vm.APIVersion == "" {
		return fmt.Errorf("missing required field: apiVersion")
	}
	if vm.Kind == "" {
		return fmt.Errorf("missing required field: kind")
	}
	if vm.APIVersion != v1alpha1.APIVersion() {
		return fmt.Errorf("unsupported apiVersion: %s (expected: %s)", vm.APIVersion, v1alpha1.APIVersion())
	}
	if vm.Kind != v1alpha1.VirtualMachineKind {
		return fmt.Errorf("unsupported kind: %s (expected: %s)", vm.Kind, v1alpha1.VirtualMachineKind)
	}
	return nil
}

// Validate checks a normalized resource for required fields and
// consistency. Whether the first controller can boot and whether slots and
// adapter numbers fit the host is decided at provisioning time.
func Validate(vm *v1alpha1.VirtualMachine) error {
	if err := validateSpec(vm); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func validateSpec(vm *v1alpha1.VirtualMachine) error {
	if vm.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	if vm.Spec.VMID != "" {
		if _, err := uuid.Parse(vm.Spec.VMID); err != nil {
			return fmt.Errorf("spec.vmId %q is not a UUID: %w", vm.Spec.VMID, err)
		}
	}

	if vm.Spec.MemoryMiB == 0 {
		return fmt.Errorf("spec.memoryMiB must be greater than 0")
	}

	namesSeen := make(map[string]bool)
	for i, ctrl := range vm.Spec.StorageControllers {
		field := fmt.Sprintf("spec.storageControllers[%d]", i)
		if ctrl.Name == "" {
			return fmt.Errorf("%s.name is required", field)
		}
		if namesSeen[ctrl.Name] {
			return fmt.Errorf("%s.name %q is duplicated", field, ctrl.Name)
		}
		namesSeen[ctrl.Name] = true

		if !ctrl.Bus.IsValid() {
			return fmt.Errorf("%s.bus %q must be one of ide, sata, scsi, virtio", field, ctrl.Bus)
		}
		if err := validateMedia(field, ctrl); err != nil {
			return err
		}
	}

	for _, slot := range vm.SortedNATSlots() {
		if err := validateAdapter(fmt.Sprintf("spec.natAdapters[%d]", slot), vm.Spec.NATAdapters[slot]); err != nil {
			return err
		}
	}

	if vm.Spec.CloudInit != nil {
		if err := validateCloudInit(vm.Spec.CloudInit); err != nil {
			return err
		}
	}

	return nil
}

func validateMedia(field string, ctrl v1alpha1.StorageController) error {
	slotsSeen := make(map[[2]uint32]string)
	claim := func(f string, d v1alpha1.DeviceDetails) error {
		key := [2]uint32{d.Port, d.Device}
		if prev, ok := slotsSeen[key]; ok {
			return fmt.Errorf("%s uses port %d device %d, already used by %s", f, d.Port, d.Device, prev)
		}
		slotsSeen[key] = f
		return nil
	}

	for j, disk := range ctrl.HardDisks {
		f := fmt.Sprintf("%s.hardDisks[%d]", field, j)
		if !filepath.IsAbs(disk.DiskPath) {
			return fmt.Errorf("%s.diskPath must be an absolute path", f)
		}
		if disk.Format != "qcow2" && disk.Format != "raw" {
			return fmt.Errorf("%s.format %q must be qcow2 or raw", f, disk.Format)
		}
		if disk.Device.Type != v1alpha1.DeviceTypeHardDisk {
			return fmt.Errorf("%s.device.deviceType must be %s", f, v1alpha1.DeviceTypeHardDisk)
		}
		if err := claim(f, disk.Device); err != nil {
			return err
		}
	}

	for j, iso := range ctrl.ISOImages {
		f := fmt.Sprintf("%s.isoImages[%d]", field, j)
		if !filepath.IsAbs(iso.SourcePath) {
			return fmt.Errorf("%s.sourcePath must be an absolute path", f)
		}
		if iso.Device.Type != v1alpha1.DeviceTypeDVD {
			return fmt.Errorf("%s.device.deviceType must be %s", f, v1alpha1.DeviceTypeDVD)
		}
		if err := claim(f, iso.Device); err != nil {
			return err
		}
	}

	return nil
}

func validateAdapter(field string, adapter v1alpha1.NATAdapter) error {
	if adapter.MACAddress != "" {
		if _, err := net.ParseMAC(adapter.MACAddress); err != nil {
			return fmt.Errorf("%s.macAddress: %w", field, err)
		}
	}

	for i, rule := range adapter.RedirectRules {
		f := fmt.Sprintf("%s.redirectRules[%d]", field, i)
		if rule.Protocol != "tcp" && rule.Protocol != "udp" {
			return fmt.Errorf("%s.protocol %q must be tcp or udp", f, rule.Protocol)
		}
		if rule.HostPort == 0 || rule.GuestPort == 0 {
			return fmt.Errorf("%s: hostPort and guestPort are required", f)
		}
		if rule.HostIP != "" && net.ParseIP(rule.HostIP) == nil {
			return fmt.Errorf("%s.hostIP %q is not an IP address", f, rule.HostIP)
		}
	}

	return nil
}

func validateCloudInit(ci *v1alpha1.CloudInitSpec) error {
	if ci.FQDN != "" && (strings.HasPrefix(ci.FQDN, ".") || strings.ContainsAny(ci.FQDN, " /_")) {
		return fmt.Errorf("spec.cloudInit.fqdn %q is not a valid domain name", ci.FQDN)
	}

	for i, key := range ci.SSHAuthorizedKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("spec.cloudInit.sshAuthorizedKeys[%d]: %w", i, err)
		}
	}

	return nil
}
