package imagewriter

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/manifest"
	"github.com/bcmrecovery/installer/internal/platform"
)

// MountPoint is the scratch mountpoint every partition is briefly mounted
// at while its content is written (spec §4.5).
const MountPoint = "/mnt2"

// Writer writes image content onto already-partitioned devices
// (spec §4.5). It holds no state between OSes; every OS's partitions are
// processed in its own call to WriteOS.
type Writer struct {
	// Exists probes label availability; defaults to the real findfs
	// probe when nil, swappable in tests.
	Exists LabelFinder
}

func (w *Writer) exists() LabelFinder {
	if w.Exists != nil {
		return w.Exists
	}
	return findfsLabelExists
}

// WriteOS writes every partition of os, in declaration order; the
// os_config.json / config.txt step (spec §4.5 final paragraph) is done
// separately by WriteOSConfig. tarballs[i] is the content
// source for partitions[i]; a partition with no corresponding tarball
// (spec §3: "|tarballs| <= |partitions|") is unformatted/empty.
func (w *Writer) WriteOS(os *manifest.OSManifest) error {
	for i := range os.Partitions {
		p := &os.Partitions[i]

		p.Label = AdjustLabel(p.Label, w.exists())

		var tarball string
		if i < len(os.Tarballs) {
			tarball = os.Tarballs[i]
		}

		if err := w.writePartition(p, tarball); err != nil {
			return errors.Wrapf(err, "writing partition %d (%s) of %q", i, p.PartitionDevice, os.Name)
		}
	}
	return nil
}

func (w *Writer) writePartition(p *manifest.PartitionSpec, tarball string) error {
	switch {
	case p.FSType == manifest.FSRaw:
		return w.writeRaw(p, tarball)
	case p.FSType.IsPartclone():
		return w.writePartclone(p, tarball)
	case p.FSType == manifest.FSUnformatted:
		return nil
	default:
		return w.writeFormatted(p, tarball)
	}
}

func (w *Writer) writeRaw(p *manifest.PartitionSpec, tarball string) error {
	if tarball == "" {
		return errors.Errorf("raw partition %s has no source image", p.PartitionDevice)
	}
	script, err := ddPipeline(tarball, p.PartitionDevice)
	if err != nil {
		return err
	}
	return platform.Command{}.RunShell("writing raw image to "+p.PartitionDevice, script)
}

func (w *Writer) writePartclone(p *manifest.PartitionSpec, tarball string) error {
	if tarball == "" {
		return errors.Errorf("partclone partition %s has no source image", p.PartitionDevice)
	}
	script, err := partcloneRestorePipeline(tarball, p.PartitionDevice)
	if err != nil {
		return err
	}
	return platform.Command{}.RunShell("restoring partclone image to "+p.PartitionDevice, script)
}

func (w *Writer) writeFormatted(p *manifest.PartitionSpec, tarball string) error {
	if err := mkfs(p); err != nil {
		return errors.Wrap(err, "creating filesystem")
	}

	if p.EmptyFS {
		return nil
	}
	if tarball == "" {
		logrus.Warnf("partition %s has no source tarball and is not marked emptyFS; leaving formatted and empty", p.PartitionDevice)
		return nil
	}

	return platform.WithMount(p.PartitionDevice, MountPoint, mountFSType(p.FSType), func() error {
		script, err := tarExtractPipeline(tarball, MountPoint)
		if err != nil {
			return err
		}
		// If this fails, the partition is left formatted but empty; the
		// installer neither retries nor rolls back (spec §9 Open
		// Question 4) — that is preserved here deliberately.
		if err := (platform.Command{}).RunShell("extracting filesystem onto "+p.PartitionDevice, script); err != nil {
			return errors.Wrap(err, "filesystem left formatted but empty after failed extraction")
		}
		return nil
	})
}

func mountFSType(fs manifest.FSType) string {
	if fs.IsFat() {
		return "vfat"
	}
	return string(fs)
}

func mkfs(p *manifest.PartitionSpec) error {
	var tool string
	args := []string{}

	switch {
	case p.FSType.IsFat():
		tool = "mkfs.fat"
		if p.Label != "" {
			args = append(args, "-n", p.Label)
		}
	case p.FSType == manifest.FSExt4:
		tool = "mkfs.ext4"
		if p.Label != "" {
			args = append(args, "-L", p.Label)
		}
	case p.FSType == manifest.FSNTFS:
		tool = "mkfs.ntfs"
		args = append(args, "--fast")
		if p.Label != "" {
			args = append(args, "-L", p.Label)
		}
	default:
		tool = "mkfs." + string(p.FSType)
		if p.Label != "" {
			args = append(args, "-L", p.Label)
		}
	}

	if p.MkfsOptions != "" {
		args = append(args, p.MkfsOptions)
	}
	args = append(args, p.PartitionDevice)

	return platform.Command{}.Run(fmt.Sprintf("mkfs.%s on %s", p.FSType, p.PartitionDevice), tool, args...)
}
