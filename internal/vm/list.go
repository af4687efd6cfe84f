package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/metadata"
)

// domainReader defines the read-only libvirt operations used by List and Get.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type domainReader interface {
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) (rDomains []libvirt.Domain, rRet uint32, err error)
	DomainLookupByName(Name string) (rDom libvirt.Domain, err error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (rState int32, rReason int32, err error)
	DomainGetInfo(Dom libvirt.Domain) (rState uint8, rMaxMem uint64, rMemory uint64, rNrVirtCPU uint16, rCPUTime uint64, err error)
	DomainGetAutostart(Dom libvirt.Domain) (rAutostart int32, err error)
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (rMetadata string, err error)
}

// MachineInfo is a summary of one defined domain.
type MachineInfo struct {
	Name      string `json:"name" yaml:"name"`
	UUID      string `json:"uuid" yaml:"uuid"`
	State     string `json:"state" yaml:"state"`
	Autostart bool   `json:"autostart" yaml:"autostart"`
	CPUs      uint16 `json:"cpus" yaml:"cpus"`
	MemoryMiB uint64 `json:"memoryMiB" yaml:"memoryMiB"`

	// Managed is true for domains created by anvil.
	Managed  bool   `json:"managed" yaml:"managed"`
	OSTypeID string `json:"osTypeId,omitempty" yaml:"osTypeId,omitempty"`
}

// List returns every domain defined on the host, running or not. Domains
// whose details cannot be read are logged and skipped.
func List(ctx context.Context, lv domainReader, log logr.Logger) ([]MachineInfo, error) {
	// NeedResults: 1 means populate the domains slice
	// Flags: 0 means all domains (active and inactive)
	domains, _, err := lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	machines := make([]MachineInfo, 0, len(domains))
	for _, domain := range domains {
		info, err := domainInfo(lv, log, domain)
		if err != nil {
			log.Info("skipping domain", "domain", domain.Name, "error", err.Error())
			continue
		}
		machines = append(machines, info)
	}

	return machines, nil
}

// domainInfo gets detailed information about a single domain.
func domainInfo(lv domainReader, log logr.Logger, domain libvirt.Domain) (MachineInfo, error) {
	state, _, err := lv.DomainGetState(domain, 0)
	if err != nil {
		return MachineInfo{}, fmt.Errorf("failed to get domain state: %w", err)
	}

	_, _, memory, nrVirtCPU, _, err := lv.DomainGetInfo(domain)
	if err != nil {
		return MachineInfo{}, fmt.Errorf("failed to get domain info: %w", err)
	}

	autostart, err := lv.DomainGetAutostart(domain)
	if err != nil {
		log.V(1).Info("failed to get autostart", "domain", domain.Name, "error", err.Error())
		autostart = 0
	}

	info := MachineInfo{
		Name:      domain.Name,
		UUID:      uuid.UUID(domain.UUID).String(),
		State:     stateToString(state),
		Autostart: autostart != 0,
		CPUs:      nrVirtCPU,
		// Memory is reported in KiB
		MemoryMiB: memory / 1024,
	}

	entry, err := metadata.Load(lv, domain)
	switch {
	case err == nil:
		info.Managed = true
		info.OSTypeID = entry.OSTypeID
	case !errors.Is(err, metadata.ErrNotManaged):
		log.V(1).Info("failed to read machine metadata", "domain", domain.Name, "error", err.Error())
	}

	return info, nil
}

// Get returns the resource a managed machine was created from, with the
// domain UUID and settings file in its status. Machines that exist but were
// not created by anvil yield metadata.ErrNotManaged.
func Get(ctx context.Context, lv domainReader, name string) (*v1alpha1.VirtualMachine, error) {
	domain, err := lv.DomainLookupByName(name)
	if err != nil {
		if isMachineNotFound(name, err) {
			return nil, fmt.Errorf("%w: %s", ErrMachineNotFound, name)
		}
		return nil, fmt.Errorf("failed to look up machine %s: %w", name, err)
	}

	entry, err := metadata.Load(lv, domain)
	if err != nil {
		return nil, fmt.Errorf("machine %s: %w", name, err)
	}

	vm := entry.Resource
	vm.Status.DomainUUID = uuid.UUID(domain.UUID).String()
	vm.Status.SettingsFile = entry.SettingsFile
	return vm, nil
}

// stateToString converts libvirt domain state to human-readable string.
func stateToString(state int32) string {
	switch libvirt.DomainState(state) {
	case libvirt.DomainNostate:
		return "no state"
	case libvirt.DomainRunning:
		return "running"
	case libvirt.DomainBlocked:
		return "blocked"
	case libvirt.DomainPaused:
		return "paused"
	case libvirt.DomainShutdown:
		return "shutdown"
	case libvirt.DomainShutoff:
		return "shutoff"
	case libvirt.DomainCrashed:
		return "crashed"
	case libvirt.DomainPmsuspended:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}
