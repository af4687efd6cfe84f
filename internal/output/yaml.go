package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
	"github.com/jbweber/anvil/internal/vm"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatVM formats a single VirtualMachine as YAML.
func (f *YAMLFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	// Ensure TypeMeta is set
	v1alpha1.SetDefaultAPIVersion(vm)
	return marshalYAML(vm)
}

// FormatVMList formats a list of VirtualMachines as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, vm := range vms {
		v1alpha1.SetDefaultAPIVersion(vm)

		data, err := yaml.Marshal(vm)
		if err != nil {
			return "", fmt.Errorf("failed to marshal VM %s to YAML: %w", vm.Name, err)
		}

		// Add document separator between VMs (but not before the first one)
		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.Write(data)
	}

	return buf.String(), nil
}

// FormatMachines formats host domains as a YAML sequence.
func (f *YAMLFormatter) FormatMachines(machines []vm.MachineInfo) (string, error) {
	if len(machines) == 0 {
		return "[]\n", nil
	}
	return marshalYAML(machines)
}

// FormatPools formats storage pools as a YAML sequence.
func (f *YAMLFormatter) FormatPools(pools []storage.PoolInfo) (string, error) {
	if len(pools) == 0 {
		return "[]\n", nil
	}
	return marshalYAML(pools)
}

// FormatVolumes formats pool volumes as a YAML sequence.
func (f *YAMLFormatter) FormatVolumes(volumes []storage.VolumeInfo) (string, error) {
	if len(volumes) == 0 {
		return "[]\n", nil
	}
	return marshalYAML(volumes)
}

func marshalYAML(v interface{}) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return string(data), nil
}
