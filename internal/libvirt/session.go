package libvirt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/flock"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/naming"
)

// LockMode is the kind of machine lock a session holds. Only exclusive
// write locks exist.
type LockMode int

const (
	LockWrite LockMode = iota
)

func (m LockMode) String() string {
	if m == LockWrite {
		return "write"
	}
	return fmt.Sprintf("LockMode(%d)", int(m))
}

const (
	// MinMemoryMiB and MaxMemoryMiB bound the guest memory size.
	MinMemoryMiB = 4
	MaxMemoryMiB = 16 * 1024 * 1024

	// MaxNATSlot is the highest network adapter slot.
	MaxNATSlot = 7
)

// ErrSessionReleased is returned by any call on a session after Unlock.
var ErrSessionReleased = errors.New("session already released")

// busLayout describes how slots on a controller type map to drive
// addresses and target device names.
type busLayout struct {
	prefix  string
	ports   uint32
	devices uint32
	model   string
}

func (l busLayout) slots() uint32 { return l.ports * l.devices }

var busLayouts = map[v1alpha1.BusType]busLayout{
	v1alpha1.BusIDE:  {prefix: "hd", ports: 2, devices: 2},
	v1alpha1.BusSATA: {prefix: "sd", ports: 6, devices: 1},
	v1alpha1.BusSCSI: {prefix: "sd", ports: 7, devices: 1, model: "virtio-scsi"},
}

// FreeSlot returns the first slot of a bus, in port then device order, that
// is not in used. ok is false when the bus is unknown or every slot is taken.
func FreeSlot(bus v1alpha1.BusType, used []v1alpha1.DeviceDetails) (slot v1alpha1.DeviceDetails, ok bool) {
	layout, known := busLayouts[bus]
	if !known {
		return v1alpha1.DeviceDetails{}, false
	}
	taken := make(map[[2]uint32]bool, len(used))
	for _, u := range used {
		taken[[2]uint32{u.Port, u.Device}] = true
	}
	for port := uint32(0); port < layout.ports; port++ {
		for device := uint32(0); device < layout.devices; device++ {
			if !taken[[2]uint32{port, device}] {
				return v1alpha1.DeviceDetails{Port: port, Device: device}, true
			}
		}
	}
	return v1alpha1.DeviceDetails{}, false
}

// Session is an exclusive view of one machine's persistent definition.
// Mutations change the in-memory definition; SaveSettings commits them.
type Session struct {
	host         *Host
	name         string
	def          *libvirtxml.Domain
	settingsFile string
	lock         *flock.Flock
	released     bool
}

// Name returns the name of the locked machine.
func (s *Session) Name() string { return s.name }

func (s *Session) checkWritable() error {
	if s.released {
		return ErrSessionReleased
	}
	return nil
}

// SetMemory sets the guest memory size in MiB.
func (s *Session) SetMemory(mib uint64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if mib < MinMemoryMiB || mib > MaxMemoryMiB {
		return fmt.Errorf("memory size %d MiB out of range [%d, %d]", mib, MinMemoryMiB, MaxMemoryMiB)
	}

	s.def.Memory = &libvirtxml.DomainMemory{Value: uint(mib), Unit: "MiB"}
	s.def.CurrentMemory = &libvirtxml.DomainCurrentMemory{Value: uint(mib), Unit: "MiB"}
	return nil
}

// AddStorageController adds a named controller on bus. A controller with
// the same name already present is left as is. A controller libvirt added
// implicitly for the same bus is claimed instead of adding a second one.
func (s *Session) AddStorageController(name string, bus v1alpha1.BusType) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	layout, ok := busLayouts[bus]
	if !ok {
		return fmt.Errorf("bus %q has no storage controller device", bus)
	}

	alias := naming.ControllerAlias(name)
	if s.findController(alias) != nil {
		return nil
	}

	ctrls := s.def.Devices.Controllers
	for i := range ctrls {
		c := &ctrls[i]
		if c.Type != string(bus) || hasUserAlias(c.Alias) {
			continue
		}
		c.Alias = &libvirtxml.DomainAlias{Name: alias}
		if layout.model != "" {
			c.Model = layout.model
		}
		return nil
	}

	var next uint
	for _, c := range ctrls {
		if c.Type == string(bus) && c.Index != nil && *c.Index >= next {
			next = *c.Index + 1
		}
	}

	s.def.Devices.Controllers = append(s.def.Devices.Controllers, libvirtxml.DomainController{
		Type:  string(bus),
		Index: uintPtr(next),
		Model: layout.model,
		Alias: &libvirtxml.DomainAlias{Name: alias},
	})
	return nil
}

// AttachDevice places medium into a slot of the named controller. Attaching
// the same medium to the same slot again is a no-op. A slot holding a
// different medium is an error.
func (s *Session) AttachDevice(controllerName string, slot v1alpha1.DeviceDetails, medium *Medium) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if medium == nil {
		return fmt.Errorf("no medium to attach")
	}

	ctrl := s.findController(naming.ControllerAlias(controllerName))
	if ctrl == nil {
		return fmt.Errorf("storage controller %q not found on machine %s", controllerName, s.name)
	}
	bus := v1alpha1.BusType(ctrl.Type)
	layout, ok := busLayouts[bus]
	if !ok {
		return fmt.Errorf("storage controller %q has unsupported bus %q", controllerName, ctrl.Type)
	}
	if slot.Port >= layout.ports || slot.Device >= layout.devices {
		return fmt.Errorf("slot port=%d device=%d out of range for %s controller %q", slot.Port, slot.Device, bus, controllerName)
	}
	if slot.Type != medium.DeviceType {
		return fmt.Errorf("cannot attach %s medium %s to %s slot", medium.DeviceType, medium.Path, slot.Type)
	}

	var ctrlIndex uint
	if ctrl.Index != nil {
		ctrlIndex = *ctrl.Index
	}
	addr := driveAddress(bus, ctrlIndex, slot)
	device := "disk"
	if medium.DeviceType == v1alpha1.DeviceTypeDVD {
		device = "cdrom"
	}

	for _, d := range s.def.Devices.Disks {
		if d.Target == nil || d.Target.Bus != string(bus) || !sameDrive(d.Address, addr) {
			continue
		}
		if d.Device == device && diskFile(d) == medium.Path {
			return nil
		}
		return fmt.Errorf("slot port=%d device=%d of controller %q already holds %s", slot.Port, slot.Device, controllerName, diskFile(d))
	}

	slotIndex := slot.Port*layout.devices + slot.Device
	dev := s.freeTargetDev(layout.prefix, uint(ctrlIndex)*uint(layout.slots())+uint(slotIndex))

	disk := libvirtxml.DomainDisk{
		Device: device,
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: driverType(medium),
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: medium.Path},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: dev,
			Bus: string(bus),
		},
		Address: &libvirtxml.DomainAddress{Drive: addr},
		Alias:   &libvirtxml.DomainAlias{Name: naming.DiskAlias(controllerName, slot.Port, slot.Device)},
	}
	if medium.ReadOnly || device == "cdrom" {
		disk.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
	}

	s.def.Devices.Disks = append(s.def.Devices.Disks, disk)
	return nil
}

// ConfigureNATAdapter configures the network adapter in slot as user-mode
// NAT, replacing whatever the slot held. Redirect rules switch the adapter
// to the passt backend, which implements port forwarding.
func (s *Session) ConfigureNATAdapter(slot uint32, adapter v1alpha1.NATAdapter) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if slot > MaxNATSlot {
		return fmt.Errorf("network adapter slot %d out of range [0, %d]", slot, MaxNATSlot)
	}

	mac := strings.ToLower(adapter.MACAddress)
	if mac == "" {
		var err error
		if mac, err = naming.MACForSlot(s.def.UUID, slot); err != nil {
			return err
		}
	}
	model := adapter.Model
	if model == "" {
		model = v1alpha1.DefaultNICModel
	}

	iface := libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{Address: mac},
		Source: &libvirtxml.DomainInterfaceSource{
			User: &libvirtxml.DomainInterfaceSourceUser{},
		},
		Model: &libvirtxml.DomainInterfaceModel{Type: model},
		Alias: &libvirtxml.DomainAlias{Name: naming.NICAlias(slot)},
	}

	if len(adapter.RedirectRules) > 0 {
		iface.Backend = &libvirtxml.DomainInterfaceBackend{Type: "passt"}
		for _, rule := range adapter.RedirectRules {
			proto := strings.ToLower(rule.Protocol)
			if proto == "" {
				proto = "tcp"
			}
			if proto != "tcp" && proto != "udp" {
				return fmt.Errorf("redirect rule protocol %q must be tcp or udp", rule.Protocol)
			}
			if rule.HostPort == 0 || rule.GuestPort == 0 {
				return fmt.Errorf("redirect rule ports must be non-zero (host %d, guest %d)", rule.HostPort, rule.GuestPort)
			}
			iface.PortForward = append(iface.PortForward, libvirtxml.DomainInterfaceSourcePortForward{
				Proto:   proto,
				Address: rule.HostIP,
				Ranges: []libvirtxml.DomainInterfaceSourcePortForwardRange{
					{Start: uint(rule.HostPort), To: uint(rule.GuestPort)},
				},
			})
		}
	}

	alias := naming.NICAlias(slot)
	for i, existing := range s.def.Devices.Interfaces {
		if existing.Alias != nil && existing.Alias.Name == alias {
			s.def.Devices.Interfaces[i] = iface
			return nil
		}
	}
	s.def.Devices.Interfaces = append(s.def.Devices.Interfaces, iface)
	return nil
}

// SaveSettings commits the session's definition: the machine is redefined
// with libvirt and its settings file rewritten.
func (s *Session) SaveSettings(ctx context.Context) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	xml, err := marshalDomain(s.def)
	if err != nil {
		return err
	}
	if _, err := s.host.domains.DomainDefineXML(xml); err != nil {
		return fmt.Errorf("failed to save settings of machine %s: %w", s.name, err)
	}

	if s.settingsFile != "" {
		if err := s.host.writeSettings(s.settingsFile, s.def); err != nil {
			return err
		}
	}
	return nil
}

// Unlock releases the machine lock. Uncommitted changes are discarded.
// A session can be released only once.
func (s *Session) Unlock() error {
	if s.released {
		return ErrSessionReleased
	}
	s.released = true

	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock machine %s: %w", s.name, err)
	}
	s.host.log.V(1).Info("machine unlocked", "name", s.name)
	return nil
}

func (s *Session) findController(alias string) *libvirtxml.DomainController {
	for i := range s.def.Devices.Controllers {
		c := &s.def.Devices.Controllers[i]
		if c.Alias != nil && c.Alias.Name == alias {
			return c
		}
	}
	return nil
}

// freeTargetDev returns prefix plus the drive letters for want, or for the
// next index not already used by another disk.
func (s *Session) freeTargetDev(prefix string, want uint) string {
	used := make(map[string]bool, len(s.def.Devices.Disks))
	for _, d := range s.def.Devices.Disks {
		if d.Target != nil {
			used[d.Target.Dev] = true
		}
	}
	for i := want; ; i++ {
		dev := prefix + driveLetters(i)
		if !used[dev] {
			return dev
		}
	}
}

// driveLetters returns the letter suffix for index i: a..z, aa..zz, ...
func driveLetters(i uint) string {
	var out []byte
	for {
		out = append([]byte{byte('a' + i%26)}, out...)
		if i < 26 {
			return string(out)
		}
		i = i/26 - 1
	}
}

func driveAddress(bus v1alpha1.BusType, ctrlIndex uint, slot v1alpha1.DeviceDetails) *libvirtxml.DomainAddressDrive {
	addr := &libvirtxml.DomainAddressDrive{
		Controller: uintPtr(ctrlIndex),
		Target:     uintPtr(0),
	}
	if bus == v1alpha1.BusIDE {
		addr.Bus = uintPtr(uint(slot.Port))
		addr.Unit = uintPtr(uint(slot.Device))
	} else {
		addr.Bus = uintPtr(0)
		addr.Unit = uintPtr(uint(slot.Port))
	}
	return addr
}

func sameDrive(addr *libvirtxml.DomainAddress, want *libvirtxml.DomainAddressDrive) bool {
	if addr == nil || addr.Drive == nil {
		return false
	}
	return uintEqual(addr.Drive.Controller, want.Controller) &&
		uintEqual(addr.Drive.Bus, want.Bus) &&
		uintEqual(addr.Drive.Unit, want.Unit)
}

// uintEqual treats a missing value as zero, as libvirt does for drive
// addresses.
func uintEqual(a, b *uint) bool {
	var av, bv uint
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

func diskFile(d libvirtxml.DomainDisk) string {
	if d.Source == nil || d.Source.File == nil {
		return ""
	}
	return d.Source.File.File
}

func driverType(m *Medium) string {
	if m.DeviceType == v1alpha1.DeviceTypeDVD || m.Format == "" {
		return "raw"
	}
	return string(m.Format)
}

func hasUserAlias(alias *libvirtxml.DomainAlias) bool {
	return alias != nil && strings.HasPrefix(alias.Name, naming.UserAliasPrefix)
}
