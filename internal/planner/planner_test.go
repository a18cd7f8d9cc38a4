package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcmrecovery/installer/internal/manifest"
)

// S1 — happy path, one OS, one partition (spec §8).
func TestPlan_HappyPathSinglePartition(t *testing.T) {
	oses := []manifest.OSManifest{
		{
			Name:     "Raspbian",
			Bootable: true,
			Tarballs: []string{"http://h/root.tar.xz"},
			Partitions: []manifest.PartitionSpec{
				{FSType: manifest.FSExt4, PartitionSizeNominal: 3000, WantMaximised: true},
			},
		},
	}
	avail := Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288}

	plan, err := Plan(oses, avail)
	require.NoError(t, err)
	require.Len(t, plan.Partitions, 1)

	p := plan.Partitions[0]
	assert.Equal(t, 6, p.Number)
	assert.Equal(t, uint64(0), p.Spec.Offset%PartitionAlignment)
	assert.GreaterOrEqual(t, p.Spec.Offset, avail.StartOfFreeSpace+PartitionGap)
	assert.Equal(t, "/dev/mmcblk0p6", p.Spec.PartitionDevice)
}

// S2 — two OSes, second pins slot 2 (spec §8).
func TestPlan_PinnedPrimarySlot(t *testing.T) {
	oses := []manifest.OSManifest{
		{
			Name:     "OS-A",
			Bootable: true,
			Tarballs: []string{"http://h/a.tar.gz"},
			Partitions: []manifest.PartitionSpec{
				{FSType: manifest.FSExt4, PartitionSizeNominal: 500, WantMaximised: true},
			},
		},
		{
			Name:     "OS-B",
			Bootable: true,
			Tarballs: []string{"http://h/b.tar.gz"},
			Partitions: []manifest.PartitionSpec{
				{FSType: manifest.FSExt4, PartitionSizeNominal: 1000, RequiresPartitionNumber: 2},
			},
		},
	}
	avail := Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288}

	plan, err := Plan(oses, avail)
	require.NoError(t, err)

	byNum := map[int]bool{}
	for _, p := range plan.Partitions {
		byNum[p.Number] = true
	}
	assert.True(t, byNum[6], "OS-A's unpinned partition should land on slot 6")
	assert.True(t, byNum[2], "OS-B's pinned partition should land on slot 2")
}

// S3 — RISC-OS pinning (spec §8).
func TestPlan_RiscOSPinning(t *testing.T) {
	oses := []manifest.OSManifest{
		{
			Name:     "RISC OS",
			Bootable: true,
			Tarballs: []string{"http://h/riscos.zip", "http://h/riscos2.zip"},
			Partitions: []manifest.PartitionSpec{
				{FSType: manifest.FSFat, PartitionSizeNominal: 200},
				{FSType: manifest.FSExt4, PartitionSizeNominal: 200},
			},
		},
	}
	avail := Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288}

	plan, err := Plan(oses, avail)
	require.NoError(t, err)

	byNum := map[int]*PlannedPartition{}
	for i := range plan.Partitions {
		byNum[plan.Partitions[i].Number] = &plan.Partitions[i]
	}
	require.Contains(t, byNum, 6)
	require.Contains(t, byNum, 7)
	assert.Equal(t, uint64(manifest.RISCOSSectorOffset), byNum[6].Spec.Offset)
}

func TestPlan_RejectsClaimingBothPrimarySlots(t *testing.T) {
	oses := []manifest.OSManifest{
		{
			Name: "Dual",
			Partitions: []manifest.PartitionSpec{
				{FSType: manifest.FSExt4, PartitionSizeNominal: 100, RequiresPartitionNumber: 2},
				{FSType: manifest.FSExt4, PartitionSizeNominal: 100, RequiresPartitionNumber: 4},
			},
		},
	}
	_, err := Plan(oses, Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288})
	assert.Error(t, err)
}

func TestPlan_RejectsSystemSlotClaim(t *testing.T) {
	oses := []manifest.OSManifest{
		{
			Name: "Bad",
			Partitions: []manifest.PartitionSpec{
				{FSType: manifest.FSExt4, PartitionSizeNominal: 100, RequiresPartitionNumber: 5},
			},
		},
	}
	_, err := Plan(oses, Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288})
	assert.Error(t, err)
}

// Testable property 1: slot numbers are pairwise distinct and >=6 or in
// {2,4}; 1/3/5 never appear.
func TestPlan_SlotNumbersAreValid(t *testing.T) {
	oses := []manifest.OSManifest{
		{Name: "A", Partitions: []manifest.PartitionSpec{
			{FSType: manifest.FSExt4, PartitionSizeNominal: 100},
			{FSType: manifest.FSExt4, PartitionSizeNominal: 100},
		}},
		{Name: "B", Partitions: []manifest.PartitionSpec{
			{FSType: manifest.FSExt4, PartitionSizeNominal: 100, RequiresPartitionNumber: 4},
		}},
	}
	plan, err := Plan(oses, Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288})
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, p := range plan.Partitions {
		assert.False(t, seen[p.Number], "duplicate slot %d", p.Number)
		seen[p.Number] = true
		assert.NotContains(t, []int{1, 3, 5}, p.Number)
		assert.True(t, p.Number >= 6 || p.Number == 2 || p.Number == 4)
	}
}

// Testable property 2: no-overlap.
func TestPlan_NoOverlap(t *testing.T) {
	oses := []manifest.OSManifest{
		{Name: "A", Partitions: []manifest.PartitionSpec{
			{FSType: manifest.FSExt4, PartitionSizeNominal: 300},
			{FSType: manifest.FSExt4, PartitionSizeNominal: 300},
			{FSType: manifest.FSExt4, PartitionSizeNominal: 300, WantMaximised: true},
		}},
	}
	plan, err := Plan(oses, Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288})
	require.NoError(t, err)

	ordered := plan.ByNumber()
	for i := 1; i < len(ordered); i++ {
		prevEnd := ordered[i-1].Spec.Offset + ordered[i-1].Spec.PartitionSizeSectors
		assert.LessOrEqual(t, prevEnd, ordered[i].Spec.Offset)
	}
}

// Testable property 4: capacity.
func TestPlan_RejectsOverCapacity(t *testing.T) {
	oses := []manifest.OSManifest{
		{Name: "Huge", Partitions: []manifest.PartitionSpec{
			{FSType: manifest.FSExt4, PartitionSizeNominal: 100_000},
		}},
	}
	_, err := Plan(oses, Availability{StartOfFreeSpace: 98304, TotalSectors: 31116288})
	require.Error(t, err)
	var notEnough *NotEnoughSpaceError
	assert.ErrorAs(t, err, &notEnough)
}
