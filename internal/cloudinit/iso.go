package cloudinit

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/kdomanski/iso9660"
	"github.com/spf13/afero"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// VolumeLabel is the ISO volume identifier the NoCloud datasource looks for.
const VolumeLabel = "CIDATA"

// GenerateISO creates a cloud-init NoCloud ISO image for a machine.
//
// The generated ISO contains in its root directory:
//   - user-data: Cloud-config YAML with hostname, SSH keys, passwords
//   - meta-data: Instance metadata (instance-id, local-hostname)
//   - network-config: only when the machine has NAT adapters
//
// Returns the ISO image as a byte slice.
func GenerateISO(vm *v1alpha1.VirtualMachine) ([]byte, error) {
	if vm == nil {
		return nil, fmt.Errorf("virtual machine cannot be nil")
	}

	userData, err := GenerateUserData(vm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(vm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	networkConfig, err := GenerateNetworkConfig(vm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// The image is already in memory; staging cleanup failures are ignored.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	if networkConfig != "" {
		if err := writer.AddFile(bytes.NewReader([]byte(networkConfig)), "network-config"); err != nil {
			return nil, fmt.Errorf("failed to add network-config: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteSeedISO generates the seed ISO for vm and writes it to path on fs,
// creating the parent directory. An existing file at path is replaced.
func WriteSeedISO(fs afero.Fs, path string, vm *v1alpha1.VirtualMachine) error {
	data, err := GenerateISO(vm)
	if err != nil {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create seed directory: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write seed ISO: %w", err)
	}

	return nil
}
