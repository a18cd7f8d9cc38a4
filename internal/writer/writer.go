// Package writer implements the partition-table rewrite (spec §4.4): it
// merges a planner.Plan with the two fixed system partitions and the
// extended container, emits an sfdisk script, and applies it to the live
// device under the sequence spec §9 calls an "indivisible procedure":
// unmount -> sfdisk -> sync -> partprobe -> remount.
package writer

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bcmrecovery/installer/internal/planner"
	"github.com/bcmrecovery/installer/internal/platform"
	"github.com/bcmrecovery/installer/internal/state"
)

// Fixed mount points used as scratch space while the table is rewritten
// (spec §4.4 steps 4, 6).
const (
	SystemsMount  = "/mnt"
	SettingsMount = "/settings"
)

// systemSlot is one of the two fixed entries (recovery FAT, settings
// ext4) that always occupy slots 1 and 5, plus the extended container
// the writer synthesizes at slot 2 or 4.
type systemSlot struct {
	number int
	start  uint64
	size   uint64
	ptype  string
	active bool
}

// Write performs spec §4.4 steps 1-7: merge, delete stale install state,
// emit the sfdisk script, unmount, apply, remount, and zero residual
// filesystem signatures. store is used only to delete the stale
// installed-state file (step 2); the caller is responsible for not
// holding any mount across this call (spec §5).
func Write(plan *planner.Plan, store *state.Store) error {
	p1Start, err := platform.BlockDeviceStart("mmcblk0p1")
	if err != nil {
		return errors.Wrap(err, "reading recovery partition start")
	}
	p1Size, err := platform.BlockDeviceSize("mmcblk0p1")
	if err != nil {
		return errors.Wrap(err, "reading recovery partition size")
	}
	p5Start, err := platform.BlockDeviceStart("mmcblk0p5")
	if err != nil {
		return errors.Wrap(err, "reading settings partition start")
	}
	p5Size, err := platform.BlockDeviceSize("mmcblk0p5")
	if err != nil {
		return errors.Wrap(err, "reading settings partition size")
	}

	slots := map[int]systemSlot{
		1: {number: 1, start: p1Start, size: p1Size, ptype: "0E"},
		5: {number: 5, start: p5Start, size: p5Size, ptype: "L"},
	}

	planned := plan.ByNumber()
	maxOSSlot := 0
	var lastEnd uint64
	for _, pp := range planned {
		if pp.Number > maxOSSlot {
			maxOSSlot = pp.Number
		}
		end := pp.Spec.Offset + pp.Spec.PartitionSizeSectors
		if end > lastEnd {
			lastEnd = end
		}
	}

	startExtended := p1Start + p1Size
	extendedSlot := 2
	for _, pp := range planned {
		if pp.Number == 2 {
			extendedSlot = 4
			break
		}
	}
	slots[extendedSlot] = systemSlot{
		number: extendedSlot,
		start:  startExtended,
		size:   lastEnd - startExtended,
		ptype:  "E",
	}

	maxSlot := maxOSSlot
	if extendedSlot > maxSlot {
		maxSlot = extendedSlot
	}
	if 5 > maxSlot {
		maxSlot = 5
	}

	script := renderScript(slots, planned, maxSlot)

	if err := store.DeleteInstalledOS(); err != nil {
		return errors.Wrap(err, "clearing stale installed-state")
	}

	if err := applyScript(script); err != nil {
		return err
	}

	for _, pp := range planned {
		if pp.Spec.PartitionSizeSectors > 0 {
			if err := platform.ZeroFirstSector(pp.Spec.PartitionDevice); err != nil {
				return errors.Wrapf(err, "zeroing %s", pp.Spec.PartitionDevice)
			}
		}
	}

	return nil
}

// renderScript builds the sfdisk input: one line per slot 1..maxSlot, in
// order, "<offset>,<sizeSectors>,<type>[ *]" for occupied slots and
// "0,0" for gaps (spec §4.4 step 3).
func renderScript(system map[int]systemSlot, planned []planner.PlannedPartition, maxSlot int) string {
	byNum := map[int]planner.PlannedPartition{}
	for _, pp := range planned {
		byNum[pp.Number] = pp
	}

	var b strings.Builder
	for i := 1; i <= maxSlot; i++ {
		if s, ok := system[i]; ok {
			fmt.Fprintf(&b, "%d,%d,%s\n", s.start, s.size, s.ptype)
			continue
		}
		if pp, ok := byNum[i]; ok {
			fmt.Fprintf(&b, "%d,%d,%s", pp.Spec.Offset, pp.Spec.PartitionSizeSectors, pp.Spec.ResolvedPartitionType())
			if pp.Spec.Active {
				b.WriteString(" *")
			}
			b.WriteString("\n")
			continue
		}
		b.WriteString("0,0\n")
	}
	return b.String()
}

// applyScript runs the indivisible unmount -> sfdisk -> sync -> partprobe
// -> remount sequence (spec §4.4 steps 4-6, §9 "Live partition-table
// rewrite").
func applyScript(script string) error {
	if err := platform.Unmount(SystemsMount); err != nil {
		logrus.WithError(err).Warn("unmounting systems partition before repartition")
	}
	if err := platform.Unmount(SettingsMount); err != nil {
		logrus.WithError(err).Warn("unmounting settings partition before repartition")
	}

	if err := (platform.Command{}).Pipe("write partition table", []byte(script),
		"sfdisk", "-uS", platform.SDCardDevice); err != nil {
		return errors.Wrap(err, "sfdisk failed")
	}

	platform.Sync()
	time.Sleep(500 * time.Millisecond)

	if err := (platform.Command{}).Run("re-read partition table", "partprobe"); err != nil {
		return errors.Wrap(err, "partprobe failed")
	}
	time.Sleep(500 * time.Millisecond)

	if err := platform.Mount("/dev/mmcblk0p1", SystemsMount, "vfat"); err != nil {
		return errors.Wrap(err, "remounting systems partition")
	}
	if err := platform.Mount("/dev/mmcblk0p5", SettingsMount, "ext4"); err != nil {
		return errors.Wrap(err, "remounting settings partition")
	}

	return nil
}
