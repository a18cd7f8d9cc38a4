// Package planner implements the pure partition-assignment algorithm
// (spec §4.3): given a list of OS manifests and the free space available
// on the card, produce a totally-ordered PartitionPlan or a structured
// failure. Planner never touches disk.
package planner

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bcmrecovery/installer/internal/manifest"
)

// Alignment and gap constants (spec Glossary / §4.3).
const (
	PartitionAlignment = 8192 // sectors (4 MiB)
	PartitionGap       = 2    // sectors
	SectorsPerMB       = 2048
)

// Availability describes the free space on the card the planner must fit
// within (spec §4.3 inputs): the first free sector after the settings
// partition, and the total sector count of the device.
type Availability struct {
	StartOfFreeSpace uint64
	TotalSectors     uint64
}

// AvailableMB is the usable space, in MiB, between the start of free
// space and the end of the device.
func (a Availability) AvailableMB() int {
	return int((a.TotalSectors - a.StartOfFreeSpace) / SectorsPerMB)
}

// PlannedPartition is one resolved entry in a PartitionPlan: an MBR
// partition number plus its fully-sized, fully-offset PartitionSpec.
type PlannedPartition struct {
	Number int
	Spec   *manifest.PartitionSpec
	// OSIndex/PartIndex identify which manifest/partition this entry
	// resolves, so downstream stages (writer, imagewriter) can walk the
	// plan back to its source declaration.
	OSIndex   int
	PartIndex int
}

// Plan is the planner's pure output: a totally-ordered assignment of MBR
// partition numbers, offsets and sizes (spec §3 PartitionPlan), covering
// only the OS-owned slots — the two fixed system partitions and the
// extended-container slot are added later by the writer (spec §4.4).
type Plan struct {
	Partitions []PlannedPartition
}

// ByNumber returns the plan's partitions sorted by MBR slot number.
func (p *Plan) ByNumber() []PlannedPartition {
	out := append([]PlannedPartition(nil), p.Partitions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// NotEnoughSpaceError is a resource-class error (spec §7): not enough
// disk space, surfaced to caller, disk untouched.
type NotEnoughSpaceError struct {
	NeededMB, AvailableMB int
}

func (e *NotEnoughSpaceError) Error() string {
	return errors.Errorf("not enough disk space: need %d MB, got %d MB", e.NeededMB, e.AvailableMB).Error()
}

// Plan assigns MBR slots and sizes to every partition of every manifest
// in oses, in declaration order, following the rules of spec §4.3.
func Plan(oses []manifest.OSManifest, avail Availability) (*Plan, error) {
	slots, err := assignSlots(oses)
	if err != nil {
		return nil, err
	}

	totalNominalMB, numExpand, riscGapMB, err := precheck(oses, slots, avail)
	if err != nil {
		return nil, err
	}

	availableMB := avail.AvailableMB()
	totalNominalMB += riscGapMB
	if totalNominalMB > availableMB {
		return nil, &NotEnoughSpaceError{NeededMB: totalNominalMB, AvailableMB: availableMB}
	}

	extraPerExpand := 0
	if numExpand > 0 {
		extraPerExpand = (availableMB - totalNominalMB) / numExpand
	}

	if err := sizePartitions(slots, avail, extraPerExpand); err != nil {
		return nil, err
	}

	out := make([]PlannedPartition, 0, len(slots))
	for num, s := range slots {
		s.spec.PartitionDevice = devicePath(num)
		out = append(out, PlannedPartition{Number: num, Spec: s.spec, OSIndex: s.osIndex, PartIndex: s.partIndex})
	}
	return &Plan{Partitions: out}, nil
}

func devicePath(number int) string {
	return "/dev/mmcblk0p" + strconv.Itoa(number)
}

// slotEntry tracks which manifest/partition a given MBR slot resolves to.
type slotEntry struct {
	spec      *manifest.PartitionSpec
	osIndex   int
	partIndex int
}

// assignSlots implements spec §4.3 "Slot assignment rules": pinned slots
// first (rejecting system-partition claims, duplicate pins, and dual
// primary-2/4 claims), then unpinned partitions fill the next logical
// slot >= 6 in manifest/partition declaration order.
func assignSlots(oses []manifest.OSManifest) (map[int]*slotEntry, error) {
	slots := map[int]*slotEntry{}

	// RISC-OS pinning happens before generic slot assignment (spec §3,
	// §4.3 "RISC-OS pinning").
	for oi := range oses {
		os := &oses[oi]
		if os.IsRiscOS() && len(os.Partitions) > 0 {
			os.Partitions[0].RequiresPartitionNumber = 6
			os.Partitions[0].Offset = manifest.RISCOSSectorOffset
			os.Partitions[len(os.Partitions)-1].RequiresPartitionNumber = 7
		}
	}

	// Pass 1: pinned slots.
	for oi := range oses {
		os := &oses[oi]
		for pi := range os.Partitions {
			p := &os.Partitions[pi]
			req := p.RequiresPartitionNumber
			if req == 0 {
				continue
			}
			if req == 1 || req == 5 {
				return nil, errors.Errorf("OS %q cannot require a system partition (1, 5)", os.Name)
			}
			if req == 3 {
				return nil, errors.Errorf("OS %q cannot require reserved compatibility partition 3", os.Name)
			}
			if _, taken := slots[req]; taken {
				return nil, errors.Errorf("more than one operating system requires partition number %d", req)
			}
			if (req == 2 && hasSlot(slots, 4)) || (req == 4 && hasSlot(slots, 2)) {
				return nil, errors.Errorf("OS %q cannot claim both primary partitions 2 and 4", os.Name)
			}
			slots[req] = &slotEntry{spec: p, osIndex: oi, partIndex: pi}
		}
	}

	// Pass 2: unpinned logical partitions, next slot >= 6, in declaration
	// order across the manifest list.
	next := nextLogicalSlot(slots)
	for oi := range oses {
		os := &oses[oi]
		for pi := range os.Partitions {
			p := &os.Partitions[pi]
			if p.RequiresPartitionNumber != 0 {
				continue
			}
			for hasSlot(slots, next) {
				next++
			}
			slots[next] = &slotEntry{spec: p, osIndex: oi, partIndex: pi}
			next++
		}
	}

	return slots, nil
}

func hasSlot(slots map[int]*slotEntry, n int) bool {
	_, ok := slots[n]
	return ok
}

func nextLogicalSlot(slots map[int]*slotEntry) int {
	max := 5
	for n := range slots {
		if n > max {
			max = n
		}
	}
	if max < 6 {
		return 6
	}
	return max + 1
}

// precheck implements spec §4.3 "Pre-check per partition": accumulates
// totals, charges a per-partition alignment surcharge, counts
// expand-partitions, and computes the RISC-OS gap charge. The 1% ext4
// metadata surcharge on the uncompressed size is computed but is not part
// of any returned total, so it does not gate the capacity check. Returns totalNominalMB (without the RISC-OS gap, which the
// caller adds separately to mirror the source's two-term accumulation),
// numExpand, and the RISC-OS gap in MB.
func precheck(oses []manifest.OSManifest, slots map[int]*slotEntry, avail Availability) (totalNominalMB, numExpand, riscGapMB int, err error) {
	for oi := range oses {
		os := &oses[oi]
		if len(os.Partitions) == 0 {
			return 0, 0, 0, errors.Errorf("OS %q has no partitions specified", os.Name)
		}

		if os.IsRiscOS() {
			if avail.StartOfFreeSpace > manifest.RISCOSSectorOffset-2048 {
				return 0, 0, 0, errors.Errorf(
					"RISC-OS cannot be installed: recovery partition too large (start sector %d)", avail.StartOfFreeSpace)
			}
			riscGapMB += int((manifest.RISCOSSectorOffset - avail.StartOfFreeSpace) / SectorsPerMB)
		}

		for pi := range os.Partitions {
			p := &os.Partitions[pi]
			numExpand += boolToInt(p.WantMaximised)

			totalNominalMB += p.PartitionSizeNominal
			uncompressed := p.UncompressedTarballSize
			if p.FSType == manifest.FSExt4 {
				uncompressed += int(0.01 * float64(totalNominalMB))
			}
			_ = uncompressed // not returned or used elsewhere; not a gating total

			// Alignment surcharge: shrink-to-minimize-gaps charges a full
			// alignment block only for partitions that either want to be
			// maximised or whose nominal size does not land on an
			// alignment boundary (spec §4.3 "Sizing").
			if p.WantMaximised || (p.PartitionSizeNominal*SectorsPerMB)%PartitionAlignment != 0 {
				totalNominalMB += PartitionAlignment / SectorsPerMB
			}
		}
	}
	return totalNominalMB, numExpand, riscGapMB, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
