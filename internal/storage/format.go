package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Magic bytes and signatures for disk image format detection
var (
	// qcow2Magic is "QFI\xfb" at offset 0 of every QCOW2 image.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// iso9660Magic is the standard identifier of the first volume descriptor,
	// found at offset 0x8001 (sector 16, byte 1).
	// Reference: ECMA-119, section 8.1
	iso9660Magic = []byte("CD001")

	// mbrSignature is the boot sector signature at offset 510. GPT disks
	// carry it too in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

const (
	iso9660MagicOffset = 0x8001
	mbrSignatureOffset = 510
)

// DetectImageFormat detects an image format by reading magic bytes.
//
// Detection order:
//   - QCOW2: "QFI\xfb" at offset 0
//   - ISO9660: "CD001" at offset 0x8001 (checked before MBR because hybrid
//     ISOs also carry a boot sector)
//   - RAW: MBR signature 0x55 0xaa at offset 510
//
// Anything else is rejected.
func DetectImageFormat(r io.ReaderAt) (VolumeFormat, error) {
	magic := make([]byte, len(qcow2Magic))
	if _, err := r.ReadAt(magic, 0); err != nil {
		return "", fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return VolumeFormatQCOW2, nil
	}

	iso := make([]byte, len(iso9660Magic))
	if _, err := r.ReadAt(iso, iso9660MagicOffset); err == nil && bytes.Equal(iso, iso9660Magic) {
		return VolumeFormatISO, nil
	}

	sig := make([]byte, len(mbrSignature))
	if _, err := r.ReadAt(sig, mbrSignatureOffset); err != nil {
		return "", fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return VolumeFormatRaw, nil
	}

	return "", fmt.Errorf("unsupported or invalid image: not qcow2, not iso9660 and missing boot sector signature")
}

// DetectFileFormat opens path on fs and detects its format.
func DetectFileFormat(fs afero.Fs, path string) (VolumeFormat, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DetectImageFormat(f)
}
