package health

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DiskCheckConfig holds archive disk-space thresholds
type DiskCheckConfig struct {
	ArchivePath    string
	FreeFloorBytes uint64        // Absolute free-space floor
	UsedPercentMax float64       // Used-percent ceiling
	ProbeTimeout   time.Duration // Bound for the filesystem probe
}

// DefaultDiskCheckConfig returns the default thresholds
func DefaultDiskCheckConfig(archivePath string) DiskCheckConfig {
	return DiskCheckConfig{
		ArchivePath:    archivePath,
		FreeFloorBytes: 1 << 30, // 1 GiB
		UsedPercentMax: 90,
		ProbeTimeout:   3 * time.Second,
	}
}

// statfsFunc probes the filesystem holding path, returning free and total
// bytes. Swappable in tests.
type statfsFunc func(path string) (free, total uint64, err error)

// ArchiveSizeRecorder receives the enumerated archive directory size.
// Satisfied by *metrics.Recorder.
type ArchiveSizeRecorder interface {
	SetArchiveSize(bytes int64)
}

// DiskCheck reports the archive volume unhealthy when free space is below
// the absolute floor or usage exceeds the percent ceiling. The archive
// directory is created on demand; failing to enumerate its size is
// tolerated, a missing or fresh archive is not itself unhealthy.
type DiskCheck struct {
	cfg      DiskCheckConfig
	logger   *zap.Logger
	recorder ArchiveSizeRecorder
	statfs   statfsFunc
}

// NewDiskCheck creates a new archive disk-space check
func NewDiskCheck(cfg DiskCheckConfig, recorder ArchiveSizeRecorder, logger *zap.Logger) *DiskCheck {
	return &DiskCheck{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		statfs:   nativeStatfs,
	}
}

// Name implements Checker
func (c *DiskCheck) Name() string { return "archive_disk_space" }

// Check implements Checker
func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	if err := os.MkdirAll(c.cfg.ArchivePath, 0o755); err != nil {
		return Unhealthy("failed to create archive directory: "+err.Error(), map[string]interface{}{
			"archive_path": c.cfg.ArchivePath,
		})
	}

	free, total, err := c.probe(ctx)
	if err != nil {
		return Unhealthy("disk usage probe failed: "+err.Error(), map[string]interface{}{
			"archive_path": c.cfg.ArchivePath,
		})
	}

	used := total - free
	usedPercent := 0.0
	if total > 0 {
		usedPercent = float64(used) / float64(total) * 100
	}

	archiveSize := c.archiveSize()
	if c.recorder != nil {
		c.recorder.SetArchiveSize(archiveSize)
	}

	details := map[string]interface{}{
		"archive_path":        c.cfg.ArchivePath,
		"archive_size_bytes":  archiveSize,
		"free_bytes":          free,
		"total_bytes":         total,
		"used_percent":        usedPercent,
		"free_human":          humanize.IBytes(free),
		"free_floor_bytes":    c.cfg.FreeFloorBytes,
		"free_floor_human":    humanize.IBytes(c.cfg.FreeFloorBytes),
		"used_percent_max":    c.cfg.UsedPercentMax,
	}

	if free < c.cfg.FreeFloorBytes {
		return Unhealthy(fmt.Sprintf("free space %s below floor %s",
			humanize.IBytes(free), humanize.IBytes(c.cfg.FreeFloorBytes)), details)
	}
	if usedPercent > c.cfg.UsedPercentMax {
		return Unhealthy(fmt.Sprintf("disk usage %.1f%% above ceiling %.1f%%",
			usedPercent, c.cfg.UsedPercentMax), details)
	}

	return Healthy(details)
}

// probe runs the filesystem-statistics call with a bounded timeout.
func (c *DiskCheck) probe(ctx context.Context) (free, total uint64, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	type probeResult struct {
		free, total uint64
		err         error
	}
	done := make(chan probeResult, 1)
	go func() {
		f, t, e := c.statfs(c.cfg.ArchivePath)
		done <- probeResult{free: f, total: t, err: e}
	}()

	select {
	case res := <-done:
		return res.free, res.total, res.err
	case <-ctx.Done():
		return 0, 0, fmt.Errorf("disk probe timed out after %v", c.cfg.ProbeTimeout)
	}
}

// archiveSize enumerates the archive directory. Enumeration errors are
// tolerated and reported as size 0.
func (c *DiskCheck) archiveSize() int64 {
	var size int64
	err := filepath.WalkDir(c.cfg.ArchivePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		c.logger.Debug("archive size enumeration failed",
			zap.String("archive_path", c.cfg.ArchivePath),
			zap.Error(err))
		return 0
	}
	return size
}

// nativeStatfs uses the platform's filesystem-statistics API directly
// instead of shelling out to an OS utility.
func nativeStatfs(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize, nil
}
