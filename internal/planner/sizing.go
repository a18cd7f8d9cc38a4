package planner

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/bcmrecovery/installer/internal/manifest"
)

// sizePartitions implements spec §4.3 "Sizing": walk logical partitions
// (slot >= 6) before the primary-claimer slot (2 or 4), if any, assigning
// offsets and sector sizes in place on each slotEntry's spec.
func sizePartitions(slots map[int]*slotEntry, avail Availability, extraPerExpand int) error {
	order := sizingOrder(slots)
	if len(order) == 0 {
		return nil
	}

	offset := avail.StartOfFreeSpace
	last := order[len(order)-1]

	for i, num := range order {
		entry := slots[num]
		p := entry.spec

		if p.Offset != 0 {
			if p.Offset <= offset {
				return errors.Errorf("fixed partition offset for slot %d is too low (%d <= %d)", num, p.Offset, offset)
			}
			offset = p.Offset
		} else {
			offset += PartitionGap
			if rem := offset % PartitionAlignment; rem != 0 {
				offset += PartitionAlignment - rem
			}
			p.Offset = offset
		}

		sizeMB := p.PartitionSizeNominal
		if p.WantMaximised {
			sizeMB += extraPerExpand
		}
		sizeSectors := uint64(sizeMB) * SectorsPerMB

		if num == last {
			spaceLeft := int64(avail.TotalSectors) - int64(offset) - int64(sizeSectors)
			if spaceLeft > 0 && p.WantMaximised {
				sizeSectors += uint64(spaceLeft)
			}
		} else {
			if sizeSectors%PartitionAlignment == 0 && p.FSType != manifest.FSRaw {
				sizeSectors -= PartitionGap
			}
			if p.WantMaximised && (sizeSectors+PartitionGap)%PartitionAlignment != 0 {
				sizeSectors += PartitionAlignment - ((sizeSectors + PartitionGap) % PartitionAlignment)
			}
		}

		p.PartitionSizeSectors = sizeSectors
		offset += sizeSectors

		if offset > avail.TotalSectors {
			return errors.Errorf("partition %d (slot %d) would cross the end of the device", i, num)
		}
	}

	return nil
}

// sizingOrder returns slot numbers in the order the source walks them:
// logical partitions (>= 6) first in ascending slot order, then the
// primary-claimer slot (2 or 4) if one exists (spec §4.3: "ensuring
// logical partitions are allocated first").
func sizingOrder(slots map[int]*slotEntry) []int {
	var logical, primary []int
	for num := range slots {
		if num == 2 || num == 4 {
			primary = append(primary, num)
		} else {
			logical = append(logical, num)
		}
	}
	sort.Ints(logical)
	sort.Ints(primary)
	return append(logical, primary...)
}
