package libvirt

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/storage"
)

// mockDomains keeps defined domains as XML keyed by name.
type mockDomains struct {
	mu   sync.Mutex
	defs map[string]string

	defineErr   error
	defineCalls int
}

func newMockDomains() *mockDomains {
	return &mockDomains{defs: make(map[string]string)}
}

func (m *mockDomains) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	xml, ok := m.defs[name]
	if !ok {
		return libvirt.Domain{}, libvirt.Error{
			Code:    uint32(libvirt.ErrNoDomain),
			Message: fmt.Sprintf("Domain not found: no domain with matching name '%s'", name),
		}
	}
	return domainFromXML(xml)
}

func (m *mockDomains) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.defineCalls++
	if m.defineErr != nil {
		return libvirt.Domain{}, m.defineErr
	}
	dom, err := domainFromXML(xml)
	if err != nil {
		return libvirt.Domain{}, err
	}
	m.defs[dom.Name] = xml
	return dom, nil
}

func (m *mockDomains) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	xml, ok := m.defs[dom.Name]
	if !ok {
		return "", fmt.Errorf("Domain not found: no domain with matching name '%s'", dom.Name)
	}
	return xml, nil
}

// definition returns the parsed definition of a defined domain.
func (m *mockDomains) definition(name string) *libvirtxml.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()

	def := &libvirtxml.Domain{}
	if err := def.Unmarshal(m.defs[name]); err != nil {
		panic(err)
	}
	return def
}

func domainFromXML(xml string) (libvirt.Domain, error) {
	var def libvirtxml.Domain
	if err := def.Unmarshal(xml); err != nil {
		return libvirt.Domain{}, fmt.Errorf("invalid domain XML: %w", err)
	}
	id, err := uuid.Parse(def.UUID)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("invalid domain UUID: %w", err)
	}
	return libvirt.Domain{Name: def.Name, UUID: libvirt.UUID(id)}, nil
}

// mockMedia models directory pools over an afero filesystem. Files written
// to fs only become volumes after the pool is refreshed.
type mockMedia struct {
	fs      afero.Fs
	pools   map[string]string // pool name -> directory
	volumes map[string]storage.VolumeFormat

	ensureErr error
	createErr error

	refreshCalls int
	created      []storage.VolumeSpec
}

func newMockMedia(fs afero.Fs) *mockMedia {
	return &mockMedia{
		fs:      fs,
		pools:   make(map[string]string),
		volumes: make(map[string]storage.VolumeFormat),
	}
}

func (m *mockMedia) EnsureDirPool(ctx context.Context, dir string) (string, error) {
	if m.ensureErr != nil {
		return "", m.ensureErr
	}
	name := naming.PoolNameForDir(dir)
	m.pools[name] = dir
	return name, nil
}

func (m *mockMedia) RefreshPool(ctx context.Context, name string) error {
	dir, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("storage pool not found: %s", name)
	}
	m.refreshCalls++

	for path := range m.volumes {
		if filepath.Dir(path) != dir {
			continue
		}
		if ok, _ := afero.Exists(m.fs, path); !ok {
			delete(m.volumes, path)
		}
	}
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if _, ok := m.volumes[path]; !ok {
			format, _ := storage.DetectFileFormat(m.fs, path)
			m.volumes[path] = format
		}
	}
	return nil
}

func (m *mockMedia) CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	dir, ok := m.pools[poolName]
	if !ok {
		return "", fmt.Errorf("pool not found: %s", poolName)
	}
	path := filepath.Join(dir, spec.Name)
	if _, ok := m.volumes[path]; ok {
		return "", fmt.Errorf("storage volume already exists: %s", spec.Name)
	}
	if err := afero.WriteFile(m.fs, path, qcow2Header(), 0o644); err != nil {
		return "", err
	}
	m.volumes[path] = spec.Format
	m.created = append(m.created, spec)
	return path, nil
}

func (m *mockMedia) LookupVolume(ctx context.Context, poolName, volumeName string) (*storage.VolumeInfo, error) {
	dir, ok := m.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("pool not found: %s", poolName)
	}
	path := filepath.Join(dir, volumeName)
	format, ok := m.volumes[path]
	if !ok {
		return nil, fmt.Errorf("volume not found: Storage volume not found: no storage vol with matching name '%s'", volumeName)
	}
	return &storage.VolumeInfo{Name: volumeName, Path: path, Pool: poolName, Format: format}, nil
}

func qcow2Header() []byte {
	return append([]byte{0x51, 0x46, 0x49, 0xfb, 0x00, 0x00, 0x00, 0x03}, make([]byte, 504)...)
}

func isoImage() []byte {
	data := make([]byte, 0x9000)
	copy(data[0x8001:], "CD001")
	return data
}
