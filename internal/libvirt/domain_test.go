package libvirt

import (
	"strings"
	"testing"

	"libvirt.org/go/libvirtxml"
)

func TestNewDomain(t *testing.T) {
	const vmID = "6f1c2a4e-8b3d-4c5e-9f10-112233445566"

	tests := []struct {
		name         string
		metadataXML  string
		wantMetadata bool
	}{
		{name: "with metadata", metadataXML: `<machine xmlns="http://anvil.cofront.xyz/v1alpha1">x</machine>`, wantMetadata: true},
		{name: "without metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := NewDomain("node1", vmID, tt.metadataXML)

			xml, err := marshalDomain(def)
			if err != nil {
				t.Fatalf("marshalDomain() error = %v", err)
			}

			var domain libvirtxml.Domain
			if err := domain.Unmarshal(xml); err != nil {
				t.Fatalf("generated XML cannot be unmarshaled: %v\nXML:\n%s", err, xml)
			}

			if domain.Type != "kvm" {
				t.Errorf("domain type = %v, want kvm", domain.Type)
			}
			if domain.Name != "node1" {
				t.Errorf("domain name = %v, want node1", domain.Name)
			}
			if domain.UUID != vmID {
				t.Errorf("domain uuid = %v, want %v", domain.UUID, vmID)
			}
			if domain.Memory == nil || domain.Memory.Value != baseMemoryMiB || domain.Memory.Unit != "MiB" {
				t.Errorf("memory = %+v, want %d MiB", domain.Memory, baseMemoryMiB)
			}
			if domain.OS == nil || len(domain.OS.BootDevices) != 2 || domain.OS.BootDevices[0].Dev != "cdrom" {
				t.Errorf("boot devices = %+v, want cdrom then hd", domain.OS)
			}
			if n := len(domain.Devices.Disks) + len(domain.Devices.Interfaces); n != 0 {
				t.Errorf("new domain has %d disks and interfaces, want none", n)
			}
			if len(domain.Devices.Serials) != 1 || len(domain.Devices.Consoles) != 1 {
				t.Error("expected one serial port and one console")
			}

			if tt.wantMetadata {
				if domain.Metadata == nil || !strings.Contains(domain.Metadata.XML, "anvil.cofront.xyz") {
					t.Errorf("metadata = %+v, want anvil element", domain.Metadata)
				}
			} else if domain.Metadata != nil {
				t.Errorf("metadata = %+v, want none", domain.Metadata)
			}
		})
	}
}

func TestDriveLetters(t *testing.T) {
	tests := []struct {
		index uint
		want  string
	}{
		{0, "a"},
		{3, "d"},
		{25, "z"},
		{26, "aa"},
		{27, "ab"},
		{701, "zz"},
		{702, "aaa"},
	}

	for _, tt := range tests {
		if got := driveLetters(tt.index); got != tt.want {
			t.Errorf("driveLetters(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}
