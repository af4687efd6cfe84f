package vm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/spf13/afero"

	"github.com/jbweber/anvil/api/v1alpha1"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/storage"
)

// callLog records every host and session call in order, so tests can assert
// on the interleaving of locks, mutations and saves.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// withPrefix returns the recorded calls starting with prefix.
func (l *callLog) withPrefix(prefix string) []string {
	var out []string
	for _, c := range l.all() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// recordingFs records file removals in the shared call log.
type recordingFs struct {
	afero.Fs
	log *callLog
}

func (f recordingFs) Remove(name string) error {
	f.log.add("Remove %s", name)
	return f.Fs.Remove(name)
}

// mockHost is a mock implementation of hostClient for testing.
type mockHost struct {
	log *callLog

	// Configurable behavior
	findMachineFunc     func(name string) (*anvillibvirt.Machine, error)
	createMachineFunc   func(settings anvillibvirt.MachineSettings) (*anvillibvirt.MachineDraft, error)
	registerMachineFunc func(draft *anvillibvirt.MachineDraft) (*anvillibvirt.Machine, error)
	lockMachineFunc     func(name string) error
	openMediumFunc      func(path string) (*anvillibvirt.Medium, error)
	createMediumFunc    func(req anvillibvirt.MediumRequest) (*anvillibvirt.Medium, error)

	// session is handed out by LockMachine; its failure knobs carry over
	// between locks.
	session *mockSession

	// Call tracking
	createMachineCalls []anvillibvirt.MachineSettings
	openMediumCalls    []openMediumCall
	lockCalls          int
}

type openMediumCall struct {
	path         string
	deviceType   v1alpha1.DeviceType
	access       anvillibvirt.AccessMode
	forceRefresh bool
}

// newMockHost creates a mock host where no machine exists and every step
// succeeds.
func newMockHost() *mockHost {
	log := &callLog{}
	m := &mockHost{log: log}
	m.session = &mockSession{log: log}

	m.findMachineFunc = func(name string) (*anvillibvirt.Machine, error) {
		return nil, libvirt.Error{
			Code:    uint32(libvirt.ErrNoDomain),
			Message: fmt.Sprintf("Domain not found: no domain with matching name '%s'", name),
		}
	}
	m.createMachineFunc = func(settings anvillibvirt.MachineSettings) (*anvillibvirt.MachineDraft, error) {
		return &anvillibvirt.MachineDraft{Machine: anvillibvirt.Machine{
			Name:         settings.Name,
			UUID:         settings.VMID,
			SettingsFile: settings.SettingsFile,
		}}, nil
	}
	m.registerMachineFunc = func(draft *anvillibvirt.MachineDraft) (*anvillibvirt.Machine, error) {
		machine := draft.Machine
		return &machine, nil
	}
	m.openMediumFunc = func(path string) (*anvillibvirt.Medium, error) {
		return &anvillibvirt.Medium{
			Path:       path,
			Format:     storage.VolumeFormatISO,
			DeviceType: v1alpha1.DeviceTypeDVD,
			ReadOnly:   true,
		}, nil
	}
	m.createMediumFunc = func(req anvillibvirt.MediumRequest) (*anvillibvirt.Medium, error) {
		return &anvillibvirt.Medium{
			Path:       req.Path,
			Format:     req.Format,
			DeviceType: v1alpha1.DeviceTypeHardDisk,
		}, nil
	}

	return m
}

func (m *mockHost) FindMachine(ctx context.Context, name string) (*anvillibvirt.Machine, error) {
	m.log.add("FindMachine %s", name)
	return m.findMachineFunc(name)
}

func (m *mockHost) ComposeSettingsPath(name, workingDir string) string {
	return naming.SettingsFilePath(workingDir, name)
}

func (m *mockHost) CreateMachine(ctx context.Context, settings anvillibvirt.MachineSettings) (*anvillibvirt.MachineDraft, error) {
	m.log.add("CreateMachine %s", settings.Name)
	m.createMachineCalls = append(m.createMachineCalls, settings)
	return m.createMachineFunc(settings)
}

func (m *mockHost) RegisterMachine(ctx context.Context, draft *anvillibvirt.MachineDraft) (*anvillibvirt.Machine, error) {
	m.log.add("RegisterMachine %s", draft.Name)
	return m.registerMachineFunc(draft)
}

func (m *mockHost) LockMachine(ctx context.Context, name string, mode anvillibvirt.LockMode) (Session, error) {
	m.log.add("LockMachine %s %s", name, mode)
	m.lockCalls++
	if m.lockMachineFunc != nil {
		if err := m.lockMachineFunc(name); err != nil {
			return nil, err
		}
	}
	m.session.held++
	return m.session, nil
}

func (m *mockHost) OpenMedium(ctx context.Context, path string, deviceType v1alpha1.DeviceType, access anvillibvirt.AccessMode, forceRefresh bool) (*anvillibvirt.Medium, error) {
	m.log.add("OpenMedium %s", path)
	m.openMediumCalls = append(m.openMediumCalls, openMediumCall{path, deviceType, access, forceRefresh})
	return m.openMediumFunc(path)
}

func (m *mockHost) CreateMedium(ctx context.Context, req anvillibvirt.MediumRequest) (*anvillibvirt.Medium, error) {
	m.log.add("CreateMedium %s", req.Path)
	return m.createMediumFunc(req)
}

// mockSession is a mock implementation of Session for testing. held counts
// locks taken minus unlocks; unlocks counts Unlock calls.
type mockSession struct {
	log *callLog

	held    int
	unlocks int

	setMemoryErr     error
	addControllerErr error
	attachErr        func(controller string, slot v1alpha1.DeviceDetails, medium *anvillibvirt.Medium) error
	natErr           error
	saveErr          error
	unlockErr        error
}

func (s *mockSession) SetMemory(mib uint64) error {
	s.log.add("SetMemory %d", mib)
	return s.setMemoryErr
}

func (s *mockSession) AddStorageController(name string, bus v1alpha1.BusType) error {
	s.log.add("AddStorageController %s %s", name, bus)
	return s.addControllerErr
}

func (s *mockSession) AttachDevice(controllerName string, slot v1alpha1.DeviceDetails, medium *anvillibvirt.Medium) error {
	s.log.add("AttachDevice %s %d:%d %s %s", controllerName, slot.Port, slot.Device, slot.Type, medium.Path)
	if s.attachErr != nil {
		return s.attachErr(controllerName, slot, medium)
	}
	return nil
}

func (s *mockSession) ConfigureNATAdapter(slot uint32, adapter v1alpha1.NATAdapter) error {
	s.log.add("ConfigureNATAdapter %d", slot)
	return s.natErr
}

func (s *mockSession) SaveSettings(ctx context.Context) error {
	s.log.add("SaveSettings")
	return s.saveErr
}

func (s *mockSession) Unlock() error {
	s.log.add("Unlock")
	s.held--
	s.unlocks++
	return s.unlockErr
}

// recordingObserver is an Observer that keeps what it saw.
type recordingObserver struct {
	mu       sync.Mutex
	steps    []string
	failed   []string
	outcomes []v1alpha1.Phase
}

func (o *recordingObserver) ObserveStep(step string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, step)
	if err != nil {
		o.failed = append(o.failed, step)
	}
}

func (o *recordingObserver) ObserveOutcome(phase v1alpha1.Phase, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, phase)
}
