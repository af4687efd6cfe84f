// Package storage provides libvirt storage pool and volume management for
// the media anvil attaches to machines.
//
// Machines reference media by absolute path. Every directory holding media
// is mapped to a libvirt "dir" pool whose name is derived from the directory
// (see naming.PoolNameForDir), so a path resolves to exactly one
// (pool, volume) pair:
//
//	/var/lib/anvil/node1/disk.qcow2 → pool anvil-node1-<hash>, volume disk.qcow2
//
// The package covers:
//   - Pool lifecycle (ensure, create, refresh, list, info)
//   - Volume operations (create, lookup, list)
//   - Format detection by magic bytes (QCOW2, ISO9660, RAW)
//
// Volumes are created owned by the QEMU user so the hypervisor can open them.
//
// Example usage:
//
//	mgr := storage.NewManager(client.Libvirt())
//	pool, err := mgr.EnsureDirPool(ctx, "/var/lib/anvil/node1")
//	if err != nil {
//	    return err
//	}
//	path, err := mgr.CreateVolume(ctx, pool, storage.VolumeSpec{
//	    Name:       "disk.qcow2",
//	    Format:     storage.VolumeFormatQCOW2,
//	    CapacityGB: 8,
//	})
package storage
