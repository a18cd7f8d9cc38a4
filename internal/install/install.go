// Package install is the top-level coordinator that drives one request
// to /os through the whole pipeline in order: validate, plan, rewrite
// the partition table, write every OS's partitions, run post-install
// scripts, then persist installed state (spec §4.3-§4.7).
package install

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/config"
	"github.com/bcmrecovery/installer/internal/fetcher"
	"github.com/bcmrecovery/installer/internal/imagewriter"
	"github.com/bcmrecovery/installer/internal/manifest"
	"github.com/bcmrecovery/installer/internal/planner"
	"github.com/bcmrecovery/installer/internal/platform"
	"github.com/bcmrecovery/installer/internal/postinstall"
	"github.com/bcmrecovery/installer/internal/state"
	"github.com/bcmrecovery/installer/internal/writer"
)

// BoardModel identifies the running board for manifest model-matching
// (spec §3 "SupportsModel"); populated from /proc/device-tree/model at
// startup.
var BoardModel = "unknown"

// Installer ties the pipeline's stages together against one board's
// settings store.
type Installer struct {
	Store        *state.Store
	ImageWriter  *imagewriter.Writer
	IDResolver   postinstall.IDResolver
	NoobsConfDir string
	Fetcher      *fetcher.Fetcher
}

// New returns an Installer backed by store, with production collaborators.
func New(store *state.Store) *Installer {
	return &Installer{
		Store:        store,
		ImageWriter:  &imagewriter.Writer{},
		NoobsConfDir: state.DefaultSettingsDir,
		Fetcher:      fetcher.New(),
	}
}

// Run resolves each manifest's nested metadata and post-install script,
// validates oses, plans and rewrites the partition table, writes every
// OS, runs its post-install script, and persists installed state, in the
// order spec §4 requires. A validation failure returns before any disk
// mutation (spec §7 "Validation... do not touch disk").
func (inst *Installer) Run(oses []manifest.OSManifest) error {
	for i := range oses {
		if err := oses[i].ResolveRemote(inst.Fetcher.Get); err != nil {
			return errors.Wrapf(err, "resolving remote metadata for %q", oses[i].Name)
		}
	}

	if err := validateAll(oses); err != nil {
		return err
	}

	avail, err := currentAvailability()
	if err != nil {
		return errors.Wrap(err, "reading available space")
	}

	plan, err := planner.Plan(oses, avail)
	if err != nil {
		return err
	}

	if err := writer.Write(plan, inst.Store); err != nil {
		return errors.Wrap(err, "rewriting partition table")
	}

	conf, err := config.Load(inst.NoobsConfDir + "/noobs.conf")
	if err != nil {
		logrus.WithError(err).Warn("failed reading noobs.conf, using defaults")
	}

	for i := range oses {
		osImage := &oses[i]

		if err := inst.ImageWriter.WriteOS(osImage); err != nil {
			return errors.Wrapf(err, "writing OS %q", osImage.Name)
		}
		if err := inst.ImageWriter.WriteOSConfig(osImage, conf); err != nil {
			return errors.Wrapf(err, "writing os_config.json for %q", osImage.Name)
		}
		if err := postinstall.Run(osImage, inst.IDResolver); err != nil {
			return errors.Wrapf(err, "running post-install script for %q", osImage.Name)
		}

		if err := inst.Store.AppendInstalledOS(toEntry(osImage)); err != nil {
			return errors.Wrapf(err, "recording installed state for %q", osImage.Name)
		}
	}

	if len(oses) > 0 {
		first := oses[0].Partitions[0].PartitionDevice
		if err := inst.Store.SetDefaultBootPartition(first); err != nil {
			return errors.Wrap(err, "setting default boot partition")
		}
	}

	platform.Sync()
	return nil
}

func validateAll(oses []manifest.OSManifest) error {
	for i := range oses {
		if err := oses[i].Validate(BoardModel); err != nil {
			return err
		}
	}
	return nil
}

// currentAvailability reads the free space left after the settings
// partition (spec §4.3 inputs): start is p5's end, total is the whole
// device's sector count.
func currentAvailability() (planner.Availability, error) {
	p5Start, err := platform.BlockDeviceStart("mmcblk0p5")
	if err != nil {
		return planner.Availability{}, err
	}
	p5Size, err := platform.BlockDeviceSize("mmcblk0p5")
	if err != nil {
		return planner.Availability{}, err
	}
	total, err := platform.BlockDeviceSize("mmcblk0")
	if err != nil {
		return planner.Availability{}, err
	}
	return planner.Availability{StartOfFreeSpace: p5Start + p5Size, TotalSectors: total}, nil
}

func toEntry(os *manifest.OSManifest) state.Entry {
	devices := make([]string, len(os.Partitions))
	for i := range os.Partitions {
		devices[i] = os.Partitions[i].PartitionDevice
	}
	return state.Entry{
		Name:        os.Name,
		Description: os.Description,
		Folder:      os.Folder(),
		ReleaseDate: os.ReleaseDate,
		Partitions:  devices,
		Bootable:    os.Bootable,
	}
}
