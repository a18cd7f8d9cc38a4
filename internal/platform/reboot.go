package platform

import (
	"os"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

func syscallSync() {
	syscall.Sync()
}

// bcmRebootPartParamPaths are probed in order; the first one that exists
// is used. Earlier revisions of this installer hardcoded the bcm2708 path
// even when only bcm2709 existed on the running kernel (spec §9, Open
// Question 1) — that bug is not reproduced here.
var bcmRebootPartParamPaths = []string{
	"/sys/module/bcm2708/parameters/reboot_part",
	"/sys/module/bcm2709/parameters/reboot_part",
}

// RebootPartitionParamPath returns the sysfs node the running kernel
// actually exposes for the reboot-into-partition parameter.
func RebootPartitionParamPath() (string, error) {
	for _, p := range bcmRebootPartParamPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.New("unable to determine reboot partition sysfs node (unsupported board?)")
}

// WriteRebootPartition writes the partition number to the kernel's
// reboot-into-partition parameter (spec §6 "Reboot-to-partition mechanism").
func WriteRebootPartition(partitionNumber int) error {
	path, err := RebootPartitionParamPath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(partitionNumber)+"\n"), 0o644)
}

// Reboot issues the autoboot reboot syscall. It does not return on success.
func Reboot() error {
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
