package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/anvil/internal/naming"
)

// LibvirtClient is the subset of go-libvirt used for storage operations.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolGetInfo(Pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolListAllVolumes(Pool libvirt.StoragePool, NeedResults int32, Flags uint32) ([]libvirt.StorageVol, uint32, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
	StorageVolGetXMLDesc(Vol libvirt.StorageVol, Flags uint32) (string, error)
	ConnectListAllStoragePools(NeedResults int32, Flags libvirt.ConnectListAllStoragePoolsFlags) ([]libvirt.StoragePool, uint32, error)
}

// Manager coordinates storage pool and volume operations.
type Manager struct {
	client LibvirtClient

	mu        sync.Mutex
	poolLocks map[string]*sync.Mutex
}

// NewManager creates a new storage manager.
func NewManager(client LibvirtClient) *Manager {
	return &Manager{
		client:    client,
		poolLocks: make(map[string]*sync.Mutex),
	}
}

// poolLock returns the mutex serializing EnsurePool calls for one pool name.
func (m *Manager) poolLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.poolLocks[name]
	if !ok {
		l = &sync.Mutex{}
		m.poolLocks[name] = l
	}
	return l
}

// EnsureDirPool ensures a directory pool exists for dir and returns its name.
// Media handed to libvirt live in pools named after their directory (see
// naming.PoolNameForDir), so every absolute media path maps to exactly one
// pool and one volume.
func (m *Manager) EnsureDirPool(ctx context.Context, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("media directory must be absolute: %s", dir)
	}
	name := naming.PoolNameForDir(dir)
	if err := m.EnsurePool(ctx, name, PoolTypeDir, filepath.Clean(dir)); err != nil {
		return "", err
	}
	return name, nil
}
