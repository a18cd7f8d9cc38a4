// Package boot implements the boot dispatcher (spec §4.1): decides
// boot-vs-setup on every startup and, in the boot branch, chain-boots the
// recorded default partition via the kernel's reboot-into-partition sysfs
// node.
package boot

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/platform"
	"github.com/bcmrecovery/installer/internal/state"
)

// Flags mirrors the CLI flags parsed by cmd/sdrecovery (spec §4.1,
// §6 "CLI flags").
type Flags struct {
	RunInstaller bool
	Partition    string
	NoWebserver  bool
}

// Dispatcher owns the installed-state store and decides whether a given
// boot enters setup mode or chain-boots an installed OS.
type Dispatcher struct {
	Store *state.Store
}

// New returns a Dispatcher backed by store.
func New(store *state.Store) *Dispatcher {
	return &Dispatcher{Store: store}
}

// Run performs the dispatch described in spec §4.1: if -runinstaller was
// given, or no installed_os.json exists, it returns enterSetup=true for
// the caller (cmd/sdrecovery) to invoke the setup entrypoint; otherwise
// it chain-boots the recorded default partition and does not return on
// success.
//
// -partition <dev> is handled first: it sets the default boot device,
// then dispatch continues as normal (spec §9, Open Question 2 — a
// `-partition` invocation can still fall through to boot dispatch
// afterward, exactly as documented).
func (d *Dispatcher) Run(flags Flags) (enterSetup bool, err error) {
	if flags.Partition != "" {
		if err := d.SetDefaultBoot(flags.Partition); err != nil {
			return false, errors.Wrap(err, "applying -partition flag")
		}
	}

	if flags.RunInstaller || !d.Store.HasInstalledOS() {
		return true, nil
	}

	device, ok := d.Store.DefaultBootPartition()
	if !ok {
		logrus.Warn("default boot partition missing or malformed; entering setup")
		return true, nil
	}

	return false, d.BootInto(device)
}

// SetDefaultBoot validates and persists device as the next-boot target
// (spec §4.1 operation `setDefaultBoot(device)`).
func (d *Dispatcher) SetDefaultBoot(device string) error {
	return d.Store.SetDefaultBootPartition(device)
}

// BootInto chain-boots dev: validates its shape, writes the
// reboot-into-partition sysfs parameter, tears down networking and
// mounts, syncs, then reboots (spec §4.1 operation `bootInto(dev)`). It
// does not return on success.
func (d *Dispatcher) BootInto(dev string) error {
	n, err := state.PartitionNumber(dev)
	if err != nil {
		return errors.Wrapf(err, "bootInto %q", dev)
	}

	if err := platform.WriteRebootPartition(n); err != nil {
		return errors.Wrap(err, "writing reboot-into-partition parameter")
	}

	if err := platform.NetworkDown(); err != nil {
		logrus.WithError(err).Warn("ifdown -a failed before reboot")
	}
	if err := platform.UnmountAll(); err != nil {
		logrus.WithError(err).Warn("umount -ar failed before reboot")
	}
	platform.Sync()

	return platform.Reboot()
}
