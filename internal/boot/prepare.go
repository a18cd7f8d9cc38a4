package boot

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/planner"
	"github.com/bcmrecovery/installer/internal/platform"
)

const (
	settingsPartitionLabel = "SETTINGS"
	settingsPartitionMB    = 32
	recoverySlackMB        = 100
	cmdlinePath            = "/boot/cmdline.txt"
	networkPollInterval    = 500 * time.Millisecond
	networkPollTimeout     = 60 * time.Second
)

// RecoveryMountPoint is where the recovery FAT partition is mounted at
// the time PrepareSDCard runs (spec §4.2); its content size, plus
// recoverySlackMB, determines the relocated partition's size.
const RecoveryMountPoint = "/boot"

// PrepareSDCard runs the one-time SD-card preparation (spec §4.2),
// sizing the relocated recovery partition from the actual content
// already present under mountPoint rather than a guessed constant
// (original program's sizeofBootFilesInKB() over `du -s /mnt`). It must
// only be invoked when no installed_os.json, p2 or p5 exist yet; callers
// are responsible for that "first install" check.
func PrepareSDCard(mountPoint string) error {
	if err := platform.WaitForDevice(platform.SDCardDevice, 30*time.Second); err != nil {
		return err
	}

	recoveryContentMB, err := recoveryContentSizeMB(mountPoint)
	if err != nil {
		return errors.Wrap(err, "measuring recovery partition content")
	}

	p1Size := uint64(recoveryContentMB+recoverySlackMB) * units.MiB / 512
	p1Start := uint64(planner.PartitionAlignment)

	totalSectors, err := platform.BlockDeviceSize("mmcblk0")
	if err != nil {
		return errors.Wrap(err, "reading total device size")
	}

	settingsSize := uint64(settingsPartitionMB) * units.MiB / 512
	extendedStart := alignUp(p1Start + p1Size + planner.PartitionGap)
	settingsStart := alignUp(extendedStart + planner.PartitionGap)

	if settingsStart+settingsSize > totalSectors {
		return errors.New("not enough space on card for recovery and settings partitions")
	}

	script := renderPrepareScript(p1Start, p1Size, extendedStart, totalSectors, settingsStart, settingsSize)

	if err := (platform.Command{}).Pipe("write initial partition table", []byte(script), "sfdisk", "-uS", platform.SDCardDevice); err != nil {
		return errors.Wrap(err, "writing initial partition table")
	}
	platform.Sync()
	time.Sleep(500 * time.Millisecond)
	if err := (platform.Command{}).Run("reread partition table", "partprobe"); err != nil {
		return errors.Wrap(err, "partprobe after initial partitioning")
	}
	time.Sleep(500 * time.Millisecond)

	if err := (platform.Command{}).Run("format recovery partition", "mkfs.vfat", "-n", "RECOVERY", platform.SDCardDevice+"p1"); err != nil {
		return errors.Wrap(err, "formatting recovery partition")
	}
	if err := (platform.Command{}).Run("format settings partition", "mkfs.ext4", "-L", settingsPartitionLabel, platform.SDCardDevice+"p5"); err != nil {
		return errors.Wrap(err, "formatting settings partition")
	}

	if err := verifyWrites(platform.SDCardDevice + "p5"); err != nil {
		return errors.Wrap(err, "verifying partition writes")
	}

	if err := stripRunInstallerFlag(cmdlinePath); err != nil {
		logrus.WithError(err).Warn("failed to strip runinstaller from cmdline.txt")
	}

	if err := startNetworking(); err != nil {
		return errors.Wrap(err, "starting networking")
	}

	return waitForAddress(networkPollTimeout)
}

// recoveryContentSizeMB sums the apparent size of every regular file
// under root and rounds up to whole megabytes, the Go equivalent of the
// original program's `du -s` over the mounted recovery partition.
func recoveryContentSizeMB(root string) (int, error) {
	var totalBytes int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			totalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "walking %s", root)
	}
	return int((totalBytes + units.MiB - 1) / units.MiB), nil
}

func alignUp(sector uint64) uint64 {
	rem := sector % planner.PartitionAlignment
	if rem == 0 {
		return sector
	}
	return sector + (planner.PartitionAlignment - rem)
}

// renderPrepareScript builds the sfdisk script for the very first
// partitioning pass: recovery FAT at slot 1, an extended container at
// slot 2 spanning the rest of the card, and the settings partition as
// the sole logical volume inside it at slot 5.
func renderPrepareScript(p1Start, p1Size, extStart, totalSectors, settingsStart, settingsSize uint64) string {
	var b strings.Builder
	b.WriteString(sfdiskLine(p1Start, p1Size, "0E", false))
	b.WriteString(sfdiskLine(extStart, totalSectors-extStart, "0F", false))
	b.WriteString("0,0\n")
	b.WriteString("0,0\n")
	b.WriteString(sfdiskLine(settingsStart, settingsSize, "83", false))
	return b.String()
}

func sfdiskLine(start, size uint64, ptype string, active bool) string {
	suffix := ""
	if active {
		suffix = " *"
	}
	return strconv.FormatUint(start, 10) + "," + strconv.FormatUint(size, 10) + "," + ptype + suffix + "\n"
}

// verifyWrites flushes pending writes, drops the kernel's page cache, then
// re-reads device's first sector, catching a write that silently failed
// against stale cached data (spec §4.2 "verify writes by dropping caches
// and re-reading").
func verifyWrites(device string) error {
	platform.Sync()
	if err := os.WriteFile("/proc/sys/vm/drop_caches", []byte("3\n"), 0o644); err != nil {
		return errors.Wrap(err, "dropping page cache")
	}

	f, err := os.Open(device)
	if err != nil {
		return errors.Wrapf(err, "reopening %s", device)
	}
	defer f.Close()

	buf := make([]byte, 512)
	if _, err := f.Read(buf); err != nil {
		return errors.Wrapf(err, "re-reading %s", device)
	}
	return nil
}

// stripRunInstallerFlag removes the runinstaller token from the
// recovery partition's kernel cmdline so the next boot goes straight to
// the installed OS (spec §4.2).
func stripRunInstallerFlag(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	fields := strings.Fields(string(raw))
	kept := fields[:0]
	for _, f := range fields {
		if f != "runinstaller" {
			kept = append(kept, f)
		}
	}

	return os.WriteFile(path, []byte(strings.Join(kept, " ")+"\n"), 0o644)
}

func startNetworking() error {
	if err := (platform.Command{}).Run("start dbus", "service", "dbus", "start"); err != nil {
		return err
	}
	return platform.Command{}.Run("start dhcpcd", "service", "dhcpcd", "start")
}

// waitForAddress blocks until a non-loopback interface has an address,
// or timeout elapses.
func waitForAddress(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if hasNonLoopbackAddress() {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("no network address appeared within timeout")
		}
		time.Sleep(networkPollInterval)
	}
}

func hasNonLoopbackAddress() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.To4() != nil || ipNet.IP.To16() != nil {
			return true
		}
	}
	return false
}
