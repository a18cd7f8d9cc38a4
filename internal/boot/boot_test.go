package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcmrecovery/installer/internal/state"
)

func TestDispatcher_Run_EntersSetupWithNoInstalledOS(t *testing.T) {
	store := state.NewStore(t.TempDir())
	d := New(store)

	enterSetup, err := d.Run(Flags{})
	require.NoError(t, err)
	assert.True(t, enterSetup)
}

func TestDispatcher_Run_RunInstallerFlagForcesSetup(t *testing.T) {
	store := state.NewStore(t.TempDir())
	require.NoError(t, store.AppendInstalledOS(state.Entry{Name: "Raspbian", Partitions: []string{"/dev/mmcblk0p6"}}))
	require.NoError(t, store.SetDefaultBootPartition("/dev/mmcblk0p6"))

	d := New(store)
	enterSetup, err := d.Run(Flags{RunInstaller: true})
	require.NoError(t, err)
	assert.True(t, enterSetup)
}

func TestDispatcher_Run_MissingDefaultBootEntersSetup(t *testing.T) {
	store := state.NewStore(t.TempDir())
	require.NoError(t, store.AppendInstalledOS(state.Entry{Name: "Raspbian", Partitions: []string{"/dev/mmcblk0p6"}}))
	// No default-boot file written: spec §7 "missing default-boot file...
	// enter setup rather than a failure".

	d := New(store)
	enterSetup, err := d.Run(Flags{})
	require.NoError(t, err)
	assert.True(t, enterSetup)
}

func TestDispatcher_SetDefaultBoot(t *testing.T) {
	store := state.NewStore(t.TempDir())
	d := New(store)

	require.NoError(t, d.SetDefaultBoot("/dev/mmcblk0p7"))

	device, ok := store.DefaultBootPartition()
	require.True(t, ok)
	assert.Equal(t, "/dev/mmcblk0p7", device)
}

func TestDispatcher_Run_PartitionFlagSetsDefaultBeforeDispatch(t *testing.T) {
	store := state.NewStore(t.TempDir())
	d := New(store)

	// No installed_os.json yet, so dispatch still enters setup, but the
	// -partition flag's side effect (persisting the default) must have
	// already happened (spec §9, Open Question 2).
	enterSetup, err := d.Run(Flags{Partition: "/dev/mmcblk0p6"})
	require.NoError(t, err)
	assert.True(t, enterSetup)

	device, ok := store.DefaultBootPartition()
	require.True(t, ok)
	assert.Equal(t, "/dev/mmcblk0p6", device)
}
