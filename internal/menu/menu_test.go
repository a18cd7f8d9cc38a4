package menu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcmrecovery/installer/internal/boot"
	"github.com/bcmrecovery/installer/internal/manifest"
	"github.com/bcmrecovery/installer/internal/state"
)

type fakeInstaller struct {
	received []manifest.OSManifest
	err      error
}

func (f *fakeInstaller) Run(oses []manifest.OSManifest) error {
	f.received = oses
	return f.err
}

func newTestMenu(t *testing.T, in string, installer Installer) (*Menu, *strings.Builder, *boot.Dispatcher) {
	store := state.NewStore(t.TempDir())
	d := boot.New(store)
	out := &strings.Builder{}
	return &Menu{In: strings.NewReader(in), Out: out, Installer: installer, Dispatcher: d}, out, d
}

func TestMenu_ExitEndsLoop(t *testing.T) {
	m, out, _ := newTestMenu(t, "5\n", &fakeInstaller{})
	require.NoError(t, m.Run())
	assert.Contains(t, out.String(), "exiting to recovery shell")
}

func TestMenu_UnrecognizedSelectionThenExit(t *testing.T) {
	m, out, _ := newTestMenu(t, "9\n5\n", &fakeInstaller{})
	require.NoError(t, m.Run())
	assert.Contains(t, out.String(), "unrecognized selection")
}

func TestMenu_SetDefaultThenExit(t *testing.T) {
	m, _, d := newTestMenu(t, "3\n/dev/mmcblk0p6\n5\n", &fakeInstaller{})
	require.NoError(t, m.Run())

	device, ok := d.Store.DefaultBootPartition()
	require.True(t, ok)
	assert.Equal(t, "/dev/mmcblk0p6", device)
}

func TestMenu_RebootDefaultWithNoneSetReportsError(t *testing.T) {
	m, out, _ := newTestMenu(t, "1\n5\n", &fakeInstaller{})
	require.NoError(t, m.Run())
	assert.Contains(t, out.String(), "no default boot partition is set")
}

func TestMenu_InstallRaspbianInvokesInstaller(t *testing.T) {
	installer := &fakeInstaller{}
	m, out, _ := newTestMenu(t, "4\n5\n", installer)
	require.NoError(t, m.Run())

	require.Len(t, installer.received, 1)
	assert.Equal(t, "Raspbian", installer.received[0].Name)
	assert.Contains(t, out.String(), "install complete")
}

func TestMenu_InstallRaspbianReportsFailure(t *testing.T) {
	installer := &fakeInstaller{err: assert.AnError}
	m, out, _ := newTestMenu(t, "4\n5\n", installer)
	require.NoError(t, m.Run())

	assert.Contains(t, out.String(), "install failed")
}

func TestMenu_EndOfInputReturnsNilWithoutExitSelection(t *testing.T) {
	m, _, _ := newTestMenu(t, "", &fakeInstaller{})
	assert.NoError(t, m.Run())
}
