// Package cloudinit provides cloud-init configuration generation for machine
// provisioning.
//
// This package generates cloud-init configuration files (user-data, meta-data
// and, for machines with NAT adapters, network-config) following the
// cloud-init NoCloud datasource specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/naming"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string    `yaml:"hostname"`
	FQDN              string    `yaml:"fqdn"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"` // Whether to expire passwords on first login
	List   string `yaml:"list"`   // Format: "username:hash"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
// User-mode NAT hands out addresses over DHCP, so only DHCP is expressed.
type EthernetConfig struct {
	Match   MatchConfig `yaml:"match"`
	SetName string      `yaml:"set-name,omitempty"`
	DHCP4   bool        `yaml:"dhcp4"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// hostnames returns the short hostname and FQDN of vm.
func hostnames(vm *v1alpha1.VirtualMachine) (string, string) {
	hostname := vm.Name
	fqdn := vm.Name
	if vm.Spec.CloudInit != nil && vm.Spec.CloudInit.FQDN != "" {
		fqdn = vm.Spec.CloudInit.FQDN
		// Extract hostname from FQDN (everything before first dot)
		hostname = strings.SplitN(fqdn, ".", 2)[0]
	}
	return hostname, fqdn
}

// GenerateUserData generates the user-data YAML content for a machine.
//
// Returns the complete user-data file content including the "#cloud-config" header.
func GenerateUserData(vm *v1alpha1.VirtualMachine) (string, error) {
	if vm == nil {
		return "", fmt.Errorf("virtual machine cannot be nil")
	}

	hostname, fqdn := hostnames(vm)
	userData := UserData{
		Hostname:        hostname,
		FQDN:            fqdn,
		SSHPasswordAuth: false,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	if ci := vm.Spec.CloudInit; ci != nil {
		if len(ci.SSHAuthorizedKeys) > 0 {
			userData.SSHAuthorizedKeys = ci.SSHAuthorizedKeys
		}
		if ci.PasswordHash != "" {
			userData.Chpasswd = &Chpasswd{
				Expire: false,
				List:   fmt.Sprintf("root:%s", ci.PasswordHash),
			}
		}
		userData.SSHPasswordAuth = ci.SSHPasswordAuth
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// Prepend #cloud-config header (required by cloud-init)
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for a machine.
//
// The instance-id is the machine UUID, so cloud-init runs again when a
// machine is recreated under the same name with a new vmId.
func GenerateMetaData(vm *v1alpha1.VirtualMachine) (string, error) {
	if vm == nil {
		return "", fmt.Errorf("virtual machine cannot be nil")
	}
	if vm.Spec.VMID == "" {
		return "", fmt.Errorf("machine %q has no vmId", vm.Name)
	}

	hostname, _ := hostnames(vm)
	metaData := MetaData{
		InstanceID:    vm.Spec.VMID,
		LocalHostname: hostname,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates the network-config YAML content for a
// machine: one DHCP ethernet per NAT adapter, matched by the adapter MAC.
//
// Returns "" when the machine has no NAT adapters.
func GenerateNetworkConfig(vm *v1alpha1.VirtualMachine) (string, error) {
	if vm == nil {
		return "", fmt.Errorf("virtual machine cannot be nil")
	}
	if len(vm.Spec.NATAdapters) == 0 {
		return "", nil
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig),
	}

	for i, slot := range vm.SortedNATSlots() {
		mac := strings.ToLower(vm.Spec.NATAdapters[slot].MACAddress)
		if mac == "" {
			var err error
			mac, err = naming.MACForSlot(vm.Spec.VMID, slot)
			if err != nil {
				return "", fmt.Errorf("failed to derive MAC for adapter %d: %w", slot, err)
			}
		}

		ethName := fmt.Sprintf("eth%d", i)
		networkConfig.Ethernets[ethName] = EthernetConfig{
			Match:   MatchConfig{MACAddress: mac},
			SetName: ethName,
			DHCP4:   true,
		}
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
