// Package libvirt provides the host side of machine provisioning on top of
// github.com/digitalocean/go-libvirt.
//
// Connection Management:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Host:
//
// Host exposes the primitives machine provisioning is built from: the
// machine registry (FindMachine, RegisterMachine), settings files
// (ComposeSettingsPath, CreateMachine), media (OpenMedium, CreateMedium) and
// exclusive machine sessions (LockMachine).
//
//	host := libvirt.NewHost(client.Libvirt(), storage.NewManager(client.Libvirt()), libvirt.HostOptions{
//	    LockDir: "/var/lib/anvil/.locks",
//	    Logger:  log,
//	})
//
// Sessions:
//
// A Session holds the machine's lock file and a copy of its persistent
// definition. Mutations (SetMemory, AddStorageController, AttachDevice,
// ConfigureNATAdapter) only touch that copy. SaveSettings redefines the
// domain and rewrites the settings file. Unlock releases the lock and
// discards anything not saved.
//
//	sess, err := host.LockMachine(ctx, "node1", libvirt.LockWrite)
//	if err != nil {
//	    return err
//	}
//	defer sess.Unlock()
//	if err := sess.SetMemory(2048); err != nil {
//	    return err
//	}
//	return sess.SaveSettings(ctx)
//
// Devices anvil adds carry user aliases (see internal/naming), which is how
// controllers are found by name and how repeated attachments are detected.
//
// Consumer-Side Interfaces:
//
// Host declares the narrow go-libvirt and storage interfaces it needs.
// *libvirt.Libvirt and *storage.Manager satisfy them implicitly.
package libvirt
