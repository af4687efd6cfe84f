package libvirt

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
)

// AccessMode is how a medium is opened.
type AccessMode int

const (
	AccessReadOnly AccessMode = iota
	AccessReadWrite
)

// Medium is a disk image or optical image known to the host's storage pools.
type Medium struct {
	Path       string
	Format     storage.VolumeFormat
	DeviceType v1alpha1.DeviceType
	ReadOnly   bool
	Pool       string
}

// MediumRequest describes a disk image to create.
type MediumRequest struct {
	Path   string
	Format storage.VolumeFormat
	SizeGB uint64
}

// OpenMedium makes an existing image known to libvirt and returns a handle
// for attaching it. The image's directory is mapped to a pool on first use.
// forceRefresh rescans the pool before the lookup, so a file replaced on
// disk is seen with its current size and format.
//
// Optical media must be ISO9660 images and are always read-only.
func (h *Host) OpenMedium(ctx context.Context, path string, deviceType v1alpha1.DeviceType, access AccessMode, forceRefresh bool) (*Medium, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("medium path must be absolute: %s", path)
	}
	if deviceType == v1alpha1.DeviceTypeDVD && access != AccessReadOnly {
		return nil, fmt.Errorf("optical medium %s can only be opened read-only", path)
	}

	pool, err := h.media.EnsureDirPool(ctx, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare pool for %s: %w", path, err)
	}

	if forceRefresh {
		if err := h.media.RefreshPool(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to refresh pool %s: %w", pool, err)
		}
	}

	info, err := h.media.LookupVolume(ctx, pool, filepath.Base(path))
	if err != nil && !forceRefresh {
		// The file may have been added after the pool was last scanned.
		if rerr := h.media.RefreshPool(ctx, pool); rerr != nil {
			return nil, fmt.Errorf("failed to refresh pool %s: %w", pool, rerr)
		}
		info, err = h.media.LookupVolume(ctx, pool, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open medium %s: %w", path, err)
	}

	format, err := storage.DetectFileFormat(h.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect medium %s: %w", path, err)
	}

	switch deviceType {
	case v1alpha1.DeviceTypeDVD:
		if format != storage.VolumeFormatISO {
			return nil, fmt.Errorf("medium %s is not an ISO9660 image (detected %s)", path, format)
		}
	case v1alpha1.DeviceTypeHardDisk:
		if format == storage.VolumeFormatISO {
			return nil, fmt.Errorf("medium %s is an ISO9660 image and cannot be used as a hard disk", path)
		}
		if info.Format == storage.VolumeFormatQCOW2 || info.Format == storage.VolumeFormatRaw {
			format = info.Format
		}
	default:
		return nil, fmt.Errorf("unknown device type %q", deviceType)
	}

	return &Medium{
		Path:       path,
		Format:     format,
		DeviceType: deviceType,
		ReadOnly:   access == AccessReadOnly,
		Pool:       pool,
	}, nil
}

// CreateMedium creates a new, empty disk image. The caller is expected to
// have removed any file already at the path.
func (h *Host) CreateMedium(ctx context.Context, req MediumRequest) (*Medium, error) {
	if !filepath.IsAbs(req.Path) {
		return nil, fmt.Errorf("disk path must be absolute: %s", req.Path)
	}

	pool, err := h.media.EnsureDirPool(ctx, filepath.Dir(req.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare pool for %s: %w", req.Path, err)
	}

	// Forget any volume whose file was removed since the last scan.
	if err := h.media.RefreshPool(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to refresh pool %s: %w", pool, err)
	}

	path, err := h.media.CreateVolume(ctx, pool, storage.VolumeSpec{
		Name:       filepath.Base(req.Path),
		Format:     req.Format,
		CapacityGB: req.SizeGB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create disk %s: %w", req.Path, err)
	}

	return &Medium{
		Path:       path,
		Format:     req.Format,
		DeviceType: v1alpha1.DeviceTypeHardDisk,
		Pool:       pool,
	}, nil
}
