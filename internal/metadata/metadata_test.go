package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

type mockReader struct {
	value string
	err   error

	calls   int
	lastURI string
}

func (m *mockReader) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	m.calls++
	if len(uri) > 0 {
		m.lastURI = uri[0]
	}
	return m.value, m.err
}

func newTestVM(name string) *v1alpha1.VirtualMachine {
	vm := v1alpha1.NewVirtualMachine(name)
	vm.Spec.OSTypeID = "fedora43"
	vm.Spec.MemoryMiB = 2048
	vm.Spec.StorageControllers = []v1alpha1.StorageController{
		{
			Name: "IDE Controller",
			Bus:  v1alpha1.BusIDE,
			HardDisks: []v1alpha1.HardDisk{
				{DiskPath: "/var/lib/anvil/node1/disk.qcow2", Device: v1alpha1.DeviceDetails{Type: v1alpha1.DeviceTypeHardDisk}},
			},
		},
	}
	vm.Status.Phase = v1alpha1.PhaseDone
	return vm
}

func TestEncodeDecode(t *testing.T) {
	vm := newTestVM("node1")
	vm.Annotations = map[string]string{"note": "a < b && c > d"}

	elem, err := Encode(vm, "/var/lib/anvil/node1/node1.xml")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(elem, `xmlns="`+Namespace+`"`) {
		t.Errorf("Encode() missing namespace: %s", elem)
	}
	if strings.Contains(elem, "a < b") {
		t.Errorf("Encode() did not escape resource text: %s", elem)
	}

	entry, err := Decode(elem)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if entry.SettingsFile != "/var/lib/anvil/node1/node1.xml" {
		t.Errorf("SettingsFile = %q", entry.SettingsFile)
	}
	if entry.Resource.Name != "node1" {
		t.Errorf("Resource.Name = %q, want node1", entry.Resource.Name)
	}
	if entry.Resource.Annotations["note"] != "a < b && c > d" {
		t.Errorf("annotation = %q", entry.Resource.Annotations["note"])
	}
	if entry.Resource.Spec.VMID != vm.Spec.VMID {
		t.Errorf("VMID = %q, want %q", entry.Resource.Spec.VMID, vm.Spec.VMID)
	}
	if entry.Resource.Status.Phase != "" {
		t.Errorf("status should not be recorded, got phase %q", entry.Resource.Status.Phase)
	}
	if vm.Status.Phase != v1alpha1.PhaseDone {
		t.Error("Encode() must not modify its input")
	}
}

func TestDecode_InvalidXML(t *testing.T) {
	if _, err := Decode("<machine"); err == nil {
		t.Error("Decode() expected error for truncated XML")
	}
}

func TestFromDomainMetadata(t *testing.T) {
	vm := newTestVM("node1")
	inner, err := DomainMetadataXML(vm, "/var/lib/anvil/node1/node1.xml")
	if err != nil {
		t.Fatalf("DomainMetadataXML() error = %v", err)
	}
	if !strings.Contains(inner, OSInfoNamespace) {
		t.Errorf("DomainMetadataXML() missing libosinfo element: %s", inner)
	}

	entry, err := FromDomainMetadata(inner)
	if err != nil {
		t.Fatalf("FromDomainMetadata() error = %v", err)
	}
	if entry.OSTypeID != "fedora43" {
		t.Errorf("OSTypeID = %q, want fedora43", entry.OSTypeID)
	}
	if entry.SettingsFile != "/var/lib/anvil/node1/node1.xml" {
		t.Errorf("SettingsFile = %q", entry.SettingsFile)
	}
	if got := len(entry.Resource.Spec.StorageControllers); got != 1 {
		t.Errorf("controllers = %d, want 1", got)
	}
}

func TestFromDomainMetadata_Unmanaged(t *testing.T) {
	tests := []struct {
		name  string
		inner string
	}{
		{name: "empty", inner: ""},
		{name: "libosinfo only", inner: `<libosinfo xmlns="` + OSInfoNamespace + `"><os id="fedora43"/></libosinfo>`},
		{name: "foreign element", inner: `<machine xmlns="http://example.com/other">x</machine>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromDomainMetadata(tt.inner)
			if !errors.Is(err, ErrNotManaged) {
				t.Errorf("FromDomainMetadata() error = %v, want ErrNotManaged", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	elem, err := Encode(newTestVM("node1"), "/var/lib/anvil/node1/node1.xml")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	r := &mockReader{value: elem}
	entry, err := Load(r, libvirt.Domain{Name: "node1"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if entry.Resource.Name != "node1" {
		t.Errorf("Resource.Name = %q", entry.Resource.Name)
	}
	if r.lastURI != Namespace {
		t.Errorf("Load() queried namespace %q, want %q", r.lastURI, Namespace)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantUnmanag bool
	}{
		{
			name:        "no metadata",
			err:         libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "metadata not found"},
			wantUnmanag: true,
		},
		{
			name: "connection failure",
			err:  errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&mockReader{err: tt.err}, libvirt.Domain{Name: "node1"})
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if got := errors.Is(err, ErrNotManaged); got != tt.wantUnmanag {
				t.Errorf("errors.Is(err, ErrNotManaged) = %v, want %v", got, tt.wantUnmanag)
			}
		})
	}
}
