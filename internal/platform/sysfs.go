package platform

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SDCardDevice is the fixed block device this installer targets.
const SDCardDevice = "/dev/mmcblk0"

func sysfsClassBlockPath(partition string) string {
	return "/sys/class/block/" + partition
}

// BlockDeviceStart returns the starting sector of a partition (e.g.
// "mmcblk0p1") as reported by sysfs.
func BlockDeviceStart(partition string) (uint64, error) {
	return readSysfsUint(sysfsClassBlockPath(partition) + "/start")
}

// BlockDeviceSize returns the size in sectors of a partition or whole
// device (e.g. "mmcblk0" or "mmcblk0p1") as reported by sysfs.
func BlockDeviceSize(node string) (uint64, error) {
	return readSysfsUint(sysfsClassBlockPath(node) + "/size")
}

func readSysfsUint(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s", path)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", path)
	}
	return v, nil
}

// WaitForDevice blocks until path exists on disk or the timeout elapses.
func WaitForDevice(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("device %s did not appear within %s", path, timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// ZeroFirstSector destroys residual filesystem signatures on a freshly
// (re)partitioned device by zeroing its first 512 bytes, spec §4.4 step 7.
func ZeroFirstSector(device string) error {
	return Command{}.Run("zero first sector of "+device,
		"dd", "count=1", "bs=512", "if=/dev/zero", "of="+device)
}

// Mount mounts device at target with the given filesystem type. An empty
// fsType lets the kernel auto-detect it.
func Mount(device, target, fsType string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errors.Wrapf(err, "creating mountpoint %s", target)
	}
	args := []string{}
	if fsType != "" {
		args = append(args, "-t", fsType)
	}
	args = append(args, device, target)
	return Command{}.Run("mount "+device+" at "+target, "mount", args...)
}

// Unmount unmounts target, tolerating "not mounted" as success since
// unmount is always paired with a scoped mount and may race with it.
func Unmount(target string) error {
	err := Command{}.Run("unmount "+target, "umount", target)
	if err != nil && strings.Contains(err.Error(), "not mounted") {
		return nil
	}
	return err
}

// WithMount mounts device at target for the duration of fn, guaranteeing
// unmount on every exit path (spec §5, §9 "Ownership of mounts").
func WithMount(device, target, fsType string, fn func() error) error {
	if err := Mount(device, target, fsType); err != nil {
		return err
	}
	defer func() {
		if err := Unmount(target); err != nil {
			logrus.WithError(err).Warnf("unmounting %s", target)
		}
	}()
	return fn()
}

// Sync flushes pending filesystem writes to the SD card.
func Sync() {
	syscallSync()
}
