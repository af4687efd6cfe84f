package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
	"github.com/jbweber/anvil/internal/vm"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatVM formats a single VirtualMachine as JSON.
func (f *JSONFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	// Ensure TypeMeta is set
	v1alpha1.SetDefaultAPIVersion(vm)
	return marshalJSON(vm)
}

// FormatVMList formats a list of VirtualMachines as a Kubernetes style list
// object:
//
//	{
//	  "apiVersion": "anvil.cofront.xyz/v1alpha1",
//	  "kind": "VirtualMachineList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	for _, vm := range vms {
		v1alpha1.SetDefaultAPIVersion(vm)
	}
	if vms == nil {
		vms = []*v1alpha1.VirtualMachine{}
	}

	return marshalJSON(map[string]interface{}{
		"apiVersion": v1alpha1.APIVersion(),
		"kind":       "VirtualMachineList",
		"items":      vms,
	})
}

// FormatMachines formats host domains as a JSON array.
func (f *JSONFormatter) FormatMachines(machines []vm.MachineInfo) (string, error) {
	if machines == nil {
		machines = []vm.MachineInfo{}
	}
	return marshalJSON(machines)
}

// FormatPools formats storage pools as a JSON array.
func (f *JSONFormatter) FormatPools(pools []storage.PoolInfo) (string, error) {
	if pools == nil {
		pools = []storage.PoolInfo{}
	}
	return marshalJSON(pools)
}

// FormatVolumes formats pool volumes as a JSON array.
func (f *JSONFormatter) FormatVolumes(volumes []storage.VolumeInfo) (string, error) {
	if volumes == nil {
		volumes = []storage.VolumeInfo{}
	}
	return marshalJSON(volumes)
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data) + "\n", nil
}
