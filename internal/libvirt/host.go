package libvirt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/go-logr/logr"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/metadata"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/storage"
)

// DefaultLockRetryDelay is how often a contended machine lock is retried
// until the caller's context gives up.
const DefaultLockRetryDelay = 100 * time.Millisecond

// domainClient is the subset of go-libvirt the Host needs for domains.
type domainClient interface {
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
}

// mediaStore is the subset of storage.Manager the Host needs for media.
type mediaStore interface {
	EnsureDirPool(ctx context.Context, dir string) (string, error)
	RefreshPool(ctx context.Context, name string) error
	CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) (string, error)
	LookupVolume(ctx context.Context, poolName, volumeName string) (*storage.VolumeInfo, error)
}

// HostOptions configures a Host.
type HostOptions struct {
	// Fs is used for settings files and media inspection. Defaults to the
	// OS filesystem.
	Fs afero.Fs

	// LockDir holds one lock file per machine. Lock files always live on
	// the OS filesystem.
	LockDir string

	// LockRetryDelay defaults to DefaultLockRetryDelay.
	LockRetryDelay time.Duration

	Logger logr.Logger
}

// Host exposes the machine registry, settings files, media and exclusive
// machine sessions of a libvirt host.
type Host struct {
	domains    domainClient
	media      mediaStore
	fs         afero.Fs
	lockDir    string
	retryDelay time.Duration
	log        logr.Logger
}

// NewHost creates a Host. domains is normally *libvirt.Libvirt and media a
// *storage.Manager over the same connection.
func NewHost(domains domainClient, media mediaStore, opts HostOptions) *Host {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.LockRetryDelay == 0 {
		opts.LockRetryDelay = DefaultLockRetryDelay
	}
	return &Host{
		domains:    domains,
		media:      media,
		fs:         opts.Fs,
		lockDir:    opts.LockDir,
		retryDelay: opts.LockRetryDelay,
		log:        opts.Logger,
	}
}

// Machine is a machine registered with the host.
type Machine struct {
	Name         string
	UUID         string
	SettingsFile string
}

// MachineSettings are the inputs for building a new machine.
type MachineSettings struct {
	SettingsFile string
	Name         string
	OSTypeID     string
	VMID         string
	Overwrite    bool

	// Resource is recorded in the domain metadata. When nil only the name,
	// OS type and UUID are recorded.
	Resource *v1alpha1.VirtualMachine
}

// MachineDraft is a built but unregistered machine.
type MachineDraft struct {
	Machine
	definition *libvirtxml.Domain
}

// FindMachine looks up a registered machine by name. The error of a failed
// lookup is returned wrapped so callers can classify it.
func (h *Host) FindMachine(ctx context.Context, name string) (*Machine, error) {
	dom, err := h.domains.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up machine %s: %w", name, err)
	}
	return &Machine{Name: dom.Name, UUID: uuid.UUID(dom.UUID).String()}, nil
}

// ComposeSettingsPath returns the settings file path of a machine stored
// under workingDir.
func (h *Host) ComposeSettingsPath(name, workingDir string) string {
	return naming.SettingsFilePath(workingDir, name)
}

// CreateMachine builds an unregistered machine and writes its settings
// file. An existing settings file is an error unless Overwrite is set.
func (h *Host) CreateMachine(ctx context.Context, settings MachineSettings) (*MachineDraft, error) {
	if settings.Name == "" {
		return nil, fmt.Errorf("machine name is required")
	}
	id, err := uuid.Parse(settings.VMID)
	if err != nil {
		return nil, fmt.Errorf("invalid machine id %q: %w", settings.VMID, err)
	}

	exists, err := afero.Exists(h.fs, settings.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to check settings file %s: %w", settings.SettingsFile, err)
	}
	if exists && !settings.Overwrite {
		return nil, fmt.Errorf("settings file %s already exists", settings.SettingsFile)
	}

	resource := settings.Resource
	if resource == nil {
		resource = v1alpha1.NewVirtualMachine(settings.Name)
		resource.Spec.OSTypeID = settings.OSTypeID
		resource.Spec.VMID = id.String()
	}
	meta, err := metadata.DomainMetadataXML(resource, settings.SettingsFile)
	if err != nil {
		return nil, err
	}

	def := NewDomain(settings.Name, id.String(), meta)
	if err := h.writeSettings(settings.SettingsFile, def); err != nil {
		return nil, err
	}

	return &MachineDraft{
		Machine: Machine{
			Name:         settings.Name,
			UUID:         id.String(),
			SettingsFile: settings.SettingsFile,
		},
		definition: def,
	}, nil
}

// RegisterMachine defines a drafted machine with libvirt.
func (h *Host) RegisterMachine(ctx context.Context, draft *MachineDraft) (*Machine, error) {
	xml, err := marshalDomain(draft.definition)
	if err != nil {
		return nil, err
	}

	dom, err := h.domains.DomainDefineXML(xml)
	if err != nil {
		return nil, fmt.Errorf("failed to register machine %s: %w", draft.Name, err)
	}

	return &Machine{
		Name:         dom.Name,
		UUID:         uuid.UUID(dom.UUID).String(),
		SettingsFile: draft.SettingsFile,
	}, nil
}

// LockMachine takes the machine's lock and opens a session on its persistent
// definition. It waits for a contended lock until ctx is done. The returned
// session must be released with Unlock.
func (h *Host) LockMachine(ctx context.Context, name string, mode LockMode) (*Session, error) {
	if h.lockDir == "" {
		return nil, fmt.Errorf("lock directory is not configured")
	}
	if err := os.MkdirAll(h.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", h.lockDir, err)
	}

	if mode != LockWrite {
		return nil, fmt.Errorf("unsupported lock mode %s for machine %s", mode, name)
	}

	fl := flock.New(naming.LockFilePath(h.lockDir, name))
	locked, err := fl.TryLockContext(ctx, h.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock machine %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock machine %s", name)
	}

	sess, err := h.openSession(name, fl)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	h.log.V(1).Info("machine locked", "name", name, "mode", mode.String())
	return sess, nil
}

func (h *Host) openSession(name string, fl *flock.Flock) (*Session, error) {
	dom, err := h.domains.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up machine %s: %w", name, err)
	}

	xml, err := h.domains.DomainGetXMLDesc(dom, libvirt.DomainXMLInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition of machine %s: %w", name, err)
	}

	def := &libvirtxml.Domain{}
	if err := def.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("failed to parse definition of machine %s: %w", name, err)
	}
	if def.Devices == nil {
		def.Devices = &libvirtxml.DomainDeviceList{}
	}

	var settingsFile string
	if def.Metadata != nil {
		if entry, err := metadata.FromDomainMetadata(def.Metadata.XML); err == nil {
			settingsFile = entry.SettingsFile
		}
	}

	return &Session{
		host:         h,
		name:         name,
		def:          def,
		settingsFile: settingsFile,
		lock:         fl,
	}, nil
}

// writeSettings writes the definition to the settings file, creating the
// machine directory if needed.
func (h *Host) writeSettings(path string, def *libvirtxml.Domain) error {
	xml, err := marshalDomain(def)
	if err != nil {
		return err
	}
	if err := h.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create machine directory: %w", err)
	}
	if err := afero.WriteFile(h.fs, path, []byte(xml), 0o644); err != nil {
		return fmt.Errorf("failed to write settings file %s: %w", path, err)
	}
	return nil
}
